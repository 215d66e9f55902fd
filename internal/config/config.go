package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Ensure we have sensible defaults in case they are not in the config file
	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	// Check the current environment (default is development)
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	// Set defaults for development and production environments
	if env == "development" {
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("gate_db_path", "./dev_gatekeeper.db")
		viper.SetDefault("log_file", "./dev_gatekeeper.log")
		viper.SetDefault("rotate_log_on_start", true)
		viper.SetDefault("log_level", "debug")
	} else if env == "production" {
		viper.SetDefault("allowed_origin", "https://my-production-site.com")
		viper.SetDefault("gate_db_path", "/var/lib/gatekeeper/gatekeeper.db")
		viper.SetDefault("log_file", "/var/log/gatekeeper/gatekeeper.log")
		viper.SetDefault("log_level", "info")
	}

	// Common defaults for both environments
	viper.SetDefault("network", "mainnet") // or "testnet" or "regtest"
	viper.SetDefault("api_port", 9003)
	viper.SetDefault("api_max_inflight", 32)
	viper.SetDefault("use_https", false)
	viper.SetDefault("cert_file", "server.crt")
	viper.SetDefault("key_file", "server.key")
	viper.SetDefault("jwt_keys_dir", "./jwtkeys")
	viper.SetDefault("gate_api_key", "")

	// Signature verification
	viper.SetDefault("verification_mode", "permissive") // or "strict"
	viper.SetDefault("require_challenge", false)

	// Balance backends
	viper.SetDefault("counterparty_endpoint", "https://api.counterparty.io:4000")
	viper.SetDefault("counterparty_timeout", "10s")
	viper.SetDefault("electrum_server", "electrum.blockstream.info:50001")
	viper.SetDefault("electrum_use_ssl", false)

	// Chat platform bridge
	viper.SetDefault("chat_bridge_url", "http://localhost:9010")

	// Enforcement and lifecycle tuning
	viper.SetDefault("enforce_concurrency", 10)
	viper.SetDefault("join_request_ttl", "48h")
	viper.SetDefault("join_request_purge_after", "720h")
	viper.SetDefault("challenge_max_age", "24h")
	viper.SetDefault("maintenance_interval", "10m")
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	// Write the default configuration to a file
	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}
