package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/bitgate/gatekeeper/internal/balance"
	gatestatedb "github.com/bitgate/gatekeeper/internal/database"
	"github.com/bitgate/gatekeeper/internal/policy"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// LoginHandler exchanges the configured API key for a short-lived JWT.
func (s *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expected := viper.GetString("gate_api_key")
	if expected == "" || subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(expected)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tokenString, err := GenerateJWT("admin")
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// ChallengeHandler opens a join request and returns the signing challenge.
func (s *API) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == 0 || req.UserID == 0 {
		http.Error(w, "chat_id and user_id are required", http.StatusBadRequest)
		return
	}

	challenge, err := s.Engine.HandleJoin(r.Context(), req.ChatID, req.UserID)
	if err != nil {
		log.Printf("Failed to open join request: %v", err)
		http.Error(w, "Failed to generate challenge", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{Challenge: challenge.Text})
}

// ClaimHandler verifies a signed ownership claim against the group policy.
func (s *API) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Signature == "" {
		http.Error(w, "address and signature are required", http.StatusBadRequest)
		return
	}

	outcome, result, err := s.Engine.SubmitClaim(r.Context(), req.ChatID, req.UserID,
		req.Address, req.Message, req.Signature)
	if err != nil {
		if errors.Is(err, balance.ErrUpstream) {
			http.Error(w, "Balance provider unavailable, try again later", http.StatusBadGateway)
			return
		}
		log.Printf("Claim processing failed: %v", err)
		http.Error(w, "Failed to process claim", http.StatusInternalServerError)
		return
	}

	resp := ClaimResponse{
		Outcome: string(outcome),
		Valid:   result.Valid,
	}
	if result.Valid {
		resp.Method = result.Method.String()
		resp.AddressType = result.AddressType.String()
	} else {
		resp.Message = result.Details
	}

	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler reports a member's tracked verification state.
func (s *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	chatID, err1 := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	userID, err2 := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "chat_id and user_id are required", http.StatusBadRequest)
		return
	}

	member, err := gatestatedb.GetMember(chatID, userID)
	if err != nil {
		if errors.Is(err, gatestatedb.ErrNotFound) {
			http.Error(w, "Member not tracked", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load member", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		ChatID:  member.ChatID,
		UserID:  member.UserID,
		State:   member.State,
		Address: member.Address,
	}
	if member.LastCheckedAt != nil {
		resp.LastCheckedAt = member.LastCheckedAt.Format(time.RFC3339)
	}
	if stored, err := gatestatedb.GetPolicy(chatID); err == nil {
		resp.Grandfathered = member.State == gatestatedb.MemberStateVerified &&
			member.PolicyHash != stored.Hash
	}

	writeJSON(w, http.StatusOK, resp)
}

// PolicyHandler reads or replaces a group's active policy.
func (s *API) PolicyHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
		if err != nil {
			http.Error(w, "chat_id is required", http.StatusBadRequest)
			return
		}
		stored, err := gatestatedb.GetPolicy(chatID)
		if err != nil {
			if errors.Is(err, gatestatedb.ErrNotFound) {
				http.Error(w, "No policy configured", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load policy", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, PolicyResponse{
			ChatID:             stored.ChatID,
			Kind:               string(stored.Policy.Kind),
			Asset:              stored.Policy.Asset,
			MinAmount:          stored.Policy.MinAmount,
			IncludeUnconfirmed: stored.Policy.IncludeUnconfirmed,
			OnFail:             string(stored.Policy.OnFail),
			Hash:               stored.Hash,
		})

	case http.MethodPost:
		var req PolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		p := policy.Policy{
			Kind:               policy.Kind(req.Kind),
			Asset:              req.Asset,
			MinAmount:          req.MinAmount,
			IncludeUnconfirmed: req.IncludeUnconfirmed,
			OnFail:             policy.OnFail(req.OnFail),
		}
		if err := p.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("Invalid policy: %v", err), http.StatusBadRequest)
			return
		}
		if err := gatestatedb.SetPolicy(req.ChatID, p); err != nil {
			http.Error(w, "Failed to save policy", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "hash": p.Hash()})

	default:
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
	}
}

// EnforceHandler runs an enforcement sweep over a group.
func (s *API) EnforceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChatID int64 `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	report, err := s.Engine.Enforce(r.Context(), req.ChatID)
	if err != nil {
		log.Printf("Enforcement sweep failed: %v", err)
		http.Error(w, "Enforcement sweep failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// RecheckHandler reports compliance counts without taking action.
func (s *API) RecheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	report, err := s.Engine.Recheck(r.Context(), chatID)
	if err != nil {
		log.Printf("Recheck failed: %v", err)
		http.Error(w, "Recheck failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
