package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
)

const DefaultPaystackBaseURL = "https://api.paystack.co"

// PaystackGateway pays transfer recipients from the Paystack balance.
type PaystackGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPaystackGateway(baseURL, secretKey string, client *http.Client) *PaystackGateway {
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PaystackGateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    client,
	}
}

func (g *PaystackGateway) Name() string { return domain.ProviderPaystack }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackRecipient struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
	IsDeleted     bool   `json:"is_deleted"`
}

type paystackTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type paystackTransfer struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

// paystackDeadStatuses are transfer states that moved no money.
var paystackDeadStatuses = map[string]bool{
	"failed": true, "reversed": true, "abandoned": true, "blocked": true, "rejected": true,
}

func (g *PaystackGateway) RetrieveAccount(ctx context.Context, recipientCode string) (*Account, error) {
	var rec paystackRecipient
	status, err := g.do(ctx, http.MethodGet, "/transferrecipient/"+url.PathEscape(recipientCode), nil, &rec)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, recipientCode)
		}
		return nil, err
	}
	return &Account{ID: rec.RecipientCode, PayoutsEnabled: rec.Active && !rec.IsDeleted}, nil
}

func (g *PaystackGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := paystackTransferRequest{
		Source:    "balance",
		Amount:    req.AmountMinor,
		Recipient: req.Destination,
		Currency:  strings.ToUpper(req.Currency),
		Reference: paystackReference(req.IdempotencyKey),
		Reason:    req.Metadata["reason"],
	}
	var t paystackTransfer
	if _, err := g.do(ctx, http.MethodPost, "/transfer", body, &t); err != nil {
		// A resumed claim reuses its reference. Paystack may reject the repeat
		// as a duplicate, or the first attempt may have landed before the
		// error; either way a live transfer under the reference is the result.
		if existing, ok := g.existingTransfer(ctx, body); ok {
			return existing, nil
		}
		return nil, err
	}
	return &Transfer{ID: t.TransferCode, Status: t.Status}, nil
}

// existingTransfer looks a reference up and returns it when it is a transfer
// of the same amount that has not failed.
func (g *PaystackGateway) existingTransfer(ctx context.Context, body paystackTransferRequest) (*Transfer, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	var t paystackTransfer
	if _, err := g.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(body.Reference), nil, &t); err != nil {
		return nil, false
	}
	if t.TransferCode == "" || t.Amount != body.Amount || paystackDeadStatuses[strings.ToLower(t.Status)] {
		return nil, false
	}
	return &Transfer{ID: t.TransferCode, Status: t.Status}, true
}

func (g *PaystackGateway) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode paystack request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: paystack %s %s: %v", ErrProvider, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read paystack response: %v", ErrProvider, err)
	}

	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: paystack %s %s: status %d", ErrProvider, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return resp.StatusCode, fmt.Errorf("%w: paystack %s %s: %s", ErrProvider, method, path, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode paystack data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// paystackReference maps an idempotency key onto Paystack's reference alphabet
// (lowercase alphanumerics, '-' and '_', 16 to 50 characters).
func paystackReference(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "po_" + hex.EncodeToString(sum[:])[:40]
}
