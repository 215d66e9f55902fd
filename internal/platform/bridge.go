package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBridgeTimeout = 10 * time.Second

// BridgeChat drives group actions through a chat-bridge service, typically
// a bot process sitting next to the platform's API. Each action is one
// POST; the bridge reports double-resolutions as success.
type BridgeChat struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

func NewBridgeChat(endpoint string) *BridgeChat {
	return &BridgeChat{
		Endpoint: endpoint,
		Client:   http.DefaultClient,
		Timeout:  defaultBridgeTimeout,
	}
}

type bridgeAction struct {
	Action string `json:"action"`
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text,omitempty"`
}

func (b *BridgeChat) post(ctx context.Context, action bridgeAction) error {
	timeout := b.Timeout
	if timeout == 0 {
		timeout = defaultBridgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint+"/action", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %v", action.Action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge %s: status code %d", action.Action, resp.StatusCode)
	}
	return nil
}

func (b *BridgeChat) Approve(ctx context.Context, chatID, userID int64) error {
	return b.post(ctx, bridgeAction{Action: "approve", ChatID: chatID, UserID: userID})
}

func (b *BridgeChat) Decline(ctx context.Context, chatID, userID int64) error {
	return b.post(ctx, bridgeAction{Action: "decline", ChatID: chatID, UserID: userID})
}

func (b *BridgeChat) Restrict(ctx context.Context, chatID, userID int64) error {
	return b.post(ctx, bridgeAction{Action: "restrict", ChatID: chatID, UserID: userID})
}

func (b *BridgeChat) Unrestrict(ctx context.Context, chatID, userID int64) error {
	return b.post(ctx, bridgeAction{Action: "unrestrict", ChatID: chatID, UserID: userID})
}

func (b *BridgeChat) Remove(ctx context.Context, chatID, userID int64) error {
	return b.post(ctx, bridgeAction{Action: "remove", ChatID: chatID, UserID: userID})
}

func (b *BridgeChat) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var result struct {
		Admin bool `json:"admin"`
	}
	if err := b.get(ctx, fmt.Sprintf("/admin?chat_id=%d&user_id=%d", chatID, userID), &result); err != nil {
		return false, err
	}
	return result.Admin, nil
}

func (b *BridgeChat) MemberCount(ctx context.Context, chatID int64) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := b.get(ctx, fmt.Sprintf("/member-count?chat_id=%d", chatID), &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (b *BridgeChat) get(ctx context.Context, path string, out interface{}) error {
	timeout := b.Timeout
	if timeout == 0 {
		timeout = defaultBridgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %v", err)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge query: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge query: status code %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Notify delivers a direct message through the bridge.
func (b *BridgeChat) Notify(ctx context.Context, userID int64, text string) error {
	return b.post(ctx, bridgeAction{Action: "notify", UserID: userID, Text: text})
}
