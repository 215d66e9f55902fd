package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitgate/gatekeeper/internal/api"
	"github.com/bitgate/gatekeeper/internal/balance"
	"github.com/bitgate/gatekeeper/internal/compliance"
	"github.com/bitgate/gatekeeper/internal/config"
	gatestatedb "github.com/bitgate/gatekeeper/internal/database"
	"github.com/bitgate/gatekeeper/internal/logger"
	"github.com/bitgate/gatekeeper/internal/platform"
	"github.com/bitgate/gatekeeper/internal/policy"
	"github.com/bitgate/gatekeeper/lib/verify"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Bitcoin token-gated group gatekeeper",
	Long:  `Verifies Bitcoin signed-message ownership claims and enforces token-balance policies on group membership.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(enforceCmd)
	rootCmd.AddCommand(recheckCmd)
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyShowCmd)

	policySetCmd.Flags().String("asset", "", "token asset name (required for kind=token)")
	policySetCmd.Flags().String("min-amount", "", "minimum balance in display units")
	policySetCmd.Flags().Bool("include-unconfirmed", false, "count unconfirmed balances")
	policySetCmd.Flags().String("on-fail", "restrict", "action on failure: restrict or kick")
}

func initConfig() {
	// Secrets (API key, bridge token) come from .env when present.
	if err := godotenv.Load(); err == nil {
		if key := os.Getenv("GATE_API_KEY"); key != "" {
			viper.Set("gate_api_key", key)
		}
	}

	err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	err = viper.ReadInConfig()
	if err != nil {
		log.Printf("Error reading viper config: %s", err.Error())
	}

	logPath := viper.GetString("log_file")
	if viper.GetBool("rotate_log_on_start") {
		if err := logger.RotateLog(logPath); err != nil {
			log.Printf("Error rotating log file: %v", err)
		}
	} else if err := logger.Init(logPath); err != nil {
		log.Printf("Error opening log file: %v", err)
	}
}

func main() {
	initConfig()
	defer logger.Cleanup()
	if len(os.Args) > 1 {
		// CLI mode
		if err := rootCmd.Execute(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	} else {
		// Interactive mode
		interactiveMode()
	}
}

func chainParams() *chaincfg.Params {
	switch viper.GetString("network") {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func verificationMode() verify.Mode {
	if viper.GetString("verification_mode") == "strict" {
		return verify.ModeStrict
	}
	return verify.ModePermissive
}

func openDatabase() error {
	return gatestatedb.InitSQLiteDB(viper.GetString("gate_db_path"))
}

func newEngine() *compliance.Engine {
	params := chainParams()
	source := &balance.Router{
		Token: balance.NewCounterpartySource(viper.GetString("counterparty_endpoint")),
	}
	electrumSource, err := balance.NewElectrumSource(balance.ElectrumConfig{
		ServerAddr: viper.GetString("electrum_server"),
		UseSSL:     viper.GetBool("electrum_use_ssl"),
	}, params)
	if err != nil {
		logger.Error("Electrum connection failed, BTC lookups fall back to Counterparty: ", err)
	} else {
		source.BTC = electrumSource
	}

	bridge := platform.NewBridgeChat(viper.GetString("chat_bridge_url"))
	engine := compliance.NewEngine(bridge, bridge, source, params, verificationMode())
	engine.Concurrency = viper.GetInt("enforce_concurrency")
	engine.JoinRequestTTL = viper.GetDuration("join_request_ttl")
	engine.RequireChallenge = viper.GetBool("require_challenge")
	return engine
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gatekeeper HTTP server",
	Long:  `Start the HTTP API, the maintenance ticker and the admin endpoints.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := openDatabase(); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}

		// Reuse a saved signing key so restarts keep issued tokens valid;
		// generate one only when none exists yet.
		if err := api.InitJWTKey("gatekeeper"); err != nil {
			if err := api.EnsureJWTKey("gatekeeper"); err != nil {
				fmt.Fprintf(os.Stderr, "Error initializing JWT key: %v\n", err)
				os.Exit(1)
			}
		}

		server := api.NewAPI(newEngine(), "gatekeeper")
		if err := server.StartServer(); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [address] [message] [signature]",
	Short: "Verify a signed message locally",
	Long:  `Verify a Bitcoin signed message against an address without touching the database or any balance backend.`,
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		result := verify.Verify(args[0], args[1], args[2], verify.Options{
			Mode:   verificationMode(),
			Params: chainParams(),
		})

		out := struct {
			Valid       bool   `json:"valid"`
			Method      string `json:"method,omitempty"`
			AddressType string `json:"address_type,omitempty"`
			Reason      string `json:"reason,omitempty"`
			Details     string `json:"details,omitempty"`
		}{
			Valid:   result.Valid,
			Reason:  string(result.Reason),
			Details: result.Details,
		}
		if result.Valid {
			out.Method = result.Method.String()
			out.AddressType = result.AddressType.String()
		}

		json.NewEncoder(os.Stdout).Encode(out)
		if !result.Valid {
			os.Exit(1)
		}
	},
}

var enforceCmd = &cobra.Command{
	Use:   "enforce [chat-id]",
	Short: "Run an enforcement sweep",
	Long:  `Evaluate every tracked member of the group against the live policy and restrict or remove the non-compliant ones.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chat id: %v\n", err)
			os.Exit(1)
		}

		if err := openDatabase(); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}

		report, err := newEngine().Enforce(context.Background(), chatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Enforcement sweep failed: %v\n", err)
			os.Exit(1)
		}

		json.NewEncoder(os.Stdout).Encode(report)
	},
}

var recheckCmd = &cobra.Command{
	Use:   "recheck [chat-id]",
	Short: "Report compliance without taking action",
	Long:  `Count compliant, non-compliant and grandfathered members without mutating state or acting on anyone.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chat id: %v\n", err)
			os.Exit(1)
		}

		if err := openDatabase(); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}

		report, err := newEngine().Recheck(context.Background(), chatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recheck failed: %v\n", err)
			os.Exit(1)
		}

		json.NewEncoder(os.Stdout).Encode(report)
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage group policies",
}

var policySetCmd = &cobra.Command{
	Use:   "set [chat-id] [kind]",
	Short: "Set a group's policy",
	Long:  `Set the group's membership policy. Kind is "basic" (signature only) or "token" (signature plus minimum balance).`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chat id: %v\n", err)
			os.Exit(1)
		}

		asset, _ := cmd.Flags().GetString("asset")
		minAmount, _ := cmd.Flags().GetString("min-amount")
		includeUnconfirmed, _ := cmd.Flags().GetBool("include-unconfirmed")
		onFail, _ := cmd.Flags().GetString("on-fail")

		p := policy.Policy{
			Kind:               policy.Kind(args[1]),
			Asset:              asset,
			MinAmount:          minAmount,
			IncludeUnconfirmed: includeUnconfirmed,
			OnFail:             policy.OnFail(onFail),
		}
		if err := p.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
			os.Exit(1)
		}

		if err := openDatabase(); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}

		if err := gatestatedb.SetPolicy(chatID, p); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving policy: %v\n", err)
			os.Exit(1)
		}

		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"status": "ok",
			"hash":   p.Hash(),
		})
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show [chat-id]",
	Short: "Show a group's policy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chat id: %v\n", err)
			os.Exit(1)
		}

		if err := openDatabase(); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}

		stored, err := gatestatedb.GetPolicy(chatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading policy: %v\n", err)
			os.Exit(1)
		}

		json.NewEncoder(os.Stdout).Encode(stored)
	},
}

func interactiveMode() {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nGatekeeper")
		fmt.Println("1. Verify a signed message")
		fmt.Println("2. Show a group's policy")
		fmt.Println("3. Start the server")
		fmt.Println("4. Exit")
		fmt.Print("\nEnter your choice (1, 2, 3, or 4): ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)

		switch choice {
		case "1":
			interactiveVerify(reader)
		case "2":
			fmt.Print("Chat ID: ")
			line, _ := reader.ReadString('\n')
			policyShowCmd.Run(policyShowCmd, []string{strings.TrimSpace(line)})
		case "3":
			serveCmd.Run(serveCmd, nil)
		case "4":
			fmt.Println("Exiting program. Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}

func interactiveVerify(reader *bufio.Reader) {
	fmt.Print("Address: ")
	addr, _ := reader.ReadString('\n')
	fmt.Print("Message: ")
	message, _ := reader.ReadString('\n')
	fmt.Print("Signature: ")
	signature, _ := reader.ReadString('\n')

	result := verify.Verify(strings.TrimSpace(addr), strings.TrimSpace(message),
		strings.TrimSpace(signature), verify.Options{
			Mode:   verificationMode(),
			Params: chainParams(),
		})

	if result.Valid {
		fmt.Printf("Signature is valid (%s, %s)\n", result.Method, result.AddressType)
	} else {
		fmt.Printf("Signature is invalid: %s\n", result.Details)
	}
}
