package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/viper"

	"github.com/bitgate/gatekeeper/internal/logger"
)

var jwtKey []byte

// JWT Claims
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// LoggingMiddleware logs information about each request
func LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	}
}

// JSONContentTypeMiddleware ensures that requests have the correct content type
func JSONContentTypeMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

// ErrorMiddleware wraps the handler and catches any panics, returning them as 500 errors
func ErrorMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic occurred", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := context.WithValue(r.Context(), contextKey("requestID"), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return time.Now().Format("20060102150405") + "-" + strings.ReplaceAll(time.Now().String(), " ", "-")
}

// ApplyMiddleware applies a list of middleware to a handler
func ApplyMiddleware(h http.HandlerFunc, middleware ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// RateLimitMiddleware sheds load once too many requests are in flight.
func (s *API) RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil {
			if !s.Limiter.TryAcquire(1) {
				http.Error(w, "Too many requests, try again later", http.StatusTooManyRequests)
				return
			}
			defer s.Limiter.Release(1)
		}
		next.ServeHTTP(w, r)
	}
}

func (s *API) CORSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := viper.GetString("allowed_origin")
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (a *API) JWTMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Println("Authorization header missing.")
			http.Error(w, "Unauthorized: Authorization header missing", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Println("Invalid Authorization header format.")
			http.Error(w, "Unauthorized: Invalid token format", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return GetJWTKey(), nil
		})

		if err != nil {
			if validationErr, ok := err.(*jwt.ValidationError); ok {
				if validationErr.Errors == jwt.ValidationErrorExpired {
					log.Println("Token expired.")
					http.Error(w, "Token expired", http.StatusUnauthorized)
					return
				}
			}
			log.Println("Invalid token:", err)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		if !token.Valid {
			log.Println("Token is not valid.")
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// GenerateJWT issues a short-lived admin token after a successful login
func GenerateJWT(userID string) (string, error) {
	expirationTime := time.Now().Add(15 * time.Minute)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
		},
	}

	signingKey := GetJWTKey()
	if signingKey == nil {
		return "", fmt.Errorf("JWT signing key not available")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(signingKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func GenerateJWTKey() ([]byte, error) {
	key := make([]byte, 32) // 256 bits
	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT key: %v", err)
	}
	return key, nil
}

func SaveJWTKey(key []byte, serviceName string) error {
	encodedKey := base64.StdEncoding.EncodeToString(key)
	keyPath := filepath.Join(viper.GetString("jwt_keys_dir"), serviceName, "jwt_key")

	err := os.WriteFile(keyPath, []byte(encodedKey), 0600)
	if err != nil {
		log.Printf("Error saving JWT key: %v", err)
		return fmt.Errorf("failed to save JWT key: %v", err)
	}

	return nil
}

func LoadJWTKey(serviceName string) ([]byte, error) {
	keyPath := filepath.Join(viper.GetString("jwt_keys_dir"), serviceName, "jwt_key")

	encodedKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT key: %v", err)
	}

	key, err := base64.StdEncoding.DecodeString(string(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT key: %v", err)
	}

	return key, nil
}

func InitJWTKey(serviceName string) error {
	key, err := LoadJWTKey(serviceName)

	if err != nil {
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Op == "open" {
			return os.ErrNotExist
		}
		log.Printf("Error loading JWT key: %v", err)
		return err
	}

	jwtKey = key
	return nil
}

func GetJWTKey() []byte {
	return jwtKey
}

func EnsureJWTKey(serviceName string) error {
	keyDir := filepath.Join(viper.GetString("jwt_keys_dir"), serviceName)

	if _, dirErr := os.Stat(keyDir); os.IsNotExist(dirErr) {
		dirCreateErr := os.MkdirAll(keyDir, 0700)
		if dirCreateErr != nil {
			return fmt.Errorf("failed to create directory for JWT key: %v", dirCreateErr)
		}
	}

	// Generate a new JWT key every time
	newKey, genErr := GenerateJWTKey()
	if genErr != nil {
		return fmt.Errorf("failed to generate new JWT key: %v", genErr)
	}

	saveErr := SaveJWTKey(newKey, serviceName)
	if saveErr != nil {
		return fmt.Errorf("failed to save new JWT key: %v", saveErr)
	}

	jwtKey = newKey
	return nil
}
