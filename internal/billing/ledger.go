// Package billing talks to the credit ledger that owns student balances.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/idtoken"
)

// ErrInsufficientCredits is returned when the balance cannot cover the request.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger checks and debits a user's credit balance.
type Ledger interface {
	EnsureCredits(ctx context.Context, userID string, credits int) error
	Debit(ctx context.Context, userID string, credits int, reason string) error
}

// HTTPLedger calls the billing service over JSON.
type HTTPLedger struct {
	client  *http.Client
	baseURL string
}

// NewHTTPLedger builds a ledger client, auto-configuring an ID token client when
// none is supplied.
func NewHTTPLedger(client *http.Client, baseURL string) (*HTTPLedger, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("billing base url must not be empty")
	}
	if client == nil {
		idc, err := idtoken.NewClient(context.Background(), baseURL)
		if err != nil {
			log.Printf("billing: id token client unavailable, using plain http err=%v", err)
			client = &http.Client{Timeout: 10 * time.Second}
		} else {
			client = idc
		}
	}
	return &HTTPLedger{client: client, baseURL: baseURL}, nil
}

type creditRequest struct {
	UserID  string `json:"user_id"`
	Credits int    `json:"credits"`
	Reason  string `json:"reason,omitempty"`
}

// EnsureCredits fails with ErrInsufficientCredits when the balance is short.
func (l *HTTPLedger) EnsureCredits(ctx context.Context, userID string, credits int) error {
	if credits <= 0 {
		return nil
	}

	var resp struct {
		Sufficient bool `json:"sufficient"`
		Balance    int  `json:"balance"`
	}
	if err := l.post(ctx, "/credits/check", creditRequest{UserID: userID, Credits: credits}, &resp); err != nil {
		return err
	}
	if !resp.Sufficient {
		return fmt.Errorf("%w: balance %d, required %d", ErrInsufficientCredits, resp.Balance, credits)
	}
	return nil
}

// Debit removes credits from the user's balance.
func (l *HTTPLedger) Debit(ctx context.Context, userID string, credits int, reason string) error {
	if credits <= 0 {
		return nil
	}
	return l.post(ctx, "/credits/debit", creditRequest{UserID: userID, Credits: credits, Reason: reason}, nil)
}

func (l *HTTPLedger) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal billing payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create billing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, extractError(resp.Body))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("billing error (%d): %s", resp.StatusCode, extractError(resp.Body))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil && err != io.EOF {
		return fmt.Errorf("decode billing response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("billing response missing data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode billing data: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "billing service returned an error"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// UnlimitedLedger accepts every request. It backs local development when no
// billing service is configured.
type UnlimitedLedger struct{}

func (UnlimitedLedger) EnsureCredits(ctx context.Context, userID string, credits int) error {
	return nil
}

func (UnlimitedLedger) Debit(ctx context.Context, userID string, credits int, reason string) error {
	log.Printf("billing: unlimited ledger debit user=%s credits=%d reason=%s", userID, credits, reason)
	return nil
}

var (
	_ Ledger = (*HTTPLedger)(nil)
	_ Ledger = UnlimitedLedger{}
)
