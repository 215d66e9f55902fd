package api

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"

	"github.com/bitgate/gatekeeper/internal/compliance"
)

// NewAPI wires the compliance engine into the HTTP surface.
func NewAPI(engine *compliance.Engine, name string) *API {
	maxInflight := viper.GetInt64("api_max_inflight")
	if maxInflight <= 0 {
		maxInflight = 32
	}
	return &API{
		Engine:      engine,
		ChainParams: engine.Params,
		Name:        name,
		Limiter:     semaphore.NewWeighted(maxInflight),
	}
}

// StartServer registers the routes and serves until the listener fails.
// Admin routes sit behind the JWT middleware; claim submission and
// challenge issuance are open so joining users can reach them.
func (s *API) StartServer() error {
	go s.startMaintenance()

	// Innermost first: content-type check runs inside error recovery,
	// CORS sits outermost so preflight requests short-circuit.
	open := func(h http.HandlerFunc) http.HandlerFunc {
		return ApplyMiddleware(h,
			JSONContentTypeMiddleware, ErrorMiddleware,
			LoggingMiddleware, RequestIDMiddleware, s.CORSMiddleware)
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return open(s.JWTMiddleware(h))
	}

	http.HandleFunc("/login", open(s.LoginHandler))
	http.HandleFunc("/challenge", open(s.RateLimitMiddleware(s.ChallengeHandler)))
	http.HandleFunc("/claim", open(s.RateLimitMiddleware(s.ClaimHandler)))
	http.HandleFunc("/status", open(s.StatusHandler))

	// Admin-only routes
	http.HandleFunc("/policy", admin(s.PolicyHandler))
	http.HandleFunc("/enforce", admin(s.EnforceHandler))
	http.HandleFunc("/recheck", admin(s.RecheckHandler))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", viper.GetInt("api_port")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if viper.GetBool("use_https") {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
			},
		}

		log.Println("Starting HTTPS server on", server.Addr)
		return server.ListenAndServeTLS(viper.GetString("cert_file"), viper.GetString("key_file"))
	}

	log.Println("Starting HTTP server on", server.Addr)
	return server.ListenAndServe()
}

// startMaintenance drives the periodic lifecycle sweeps: join-request
// expiry, terminal-request purging and challenge expiry.
func (s *API) startMaintenance() {
	interval := viper.GetDuration("maintenance_interval")
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	purgeAfter := viper.GetDuration("join_request_purge_after")
	challengeMaxAge := viper.GetDuration("challenge_max_age")

	for range ticker.C {
		s.Engine.RunMaintenance(purgeAfter, challengeMaxAge)
	}
}
