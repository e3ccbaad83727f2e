package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

const (
	WebhookStatusPaid      = "paid"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusIgnored   = "ignored"

	GenericEventPaymentSucceeded = "payment.succeeded"
	paystackEventChargeSuccess   = "charge.success"
)

// WebhookSecrets holds the shared secrets of each provider.
type WebhookSecrets struct {
	StripeWebhookSecret string
	PaystackSecretKey   string
	GenericHMACKey      string
	// SkipGenericSignature disables signature checks on the generic endpoint for local runs.
	SkipGenericSignature bool
}

type WebhookResult struct {
	Provider  string     `json:"provider"`
	EventType string     `json:"event_type"`
	BatchID   *uuid.UUID `json:"batch_id,omitempty"`
	Status    string     `json:"status"`
}

// GenericWebhookPayload is the body accepted by the generic signed endpoint.
type GenericWebhookPayload struct {
	EventType  string `json:"event_type"`
	Provider   string `json:"provider"`
	ResourceID string `json:"resource_id"`
	BatchID    string `json:"batch_id"`
}

// WebhookService verifies provider events and marks the matching batch paid.
type WebhookService struct {
	store   QueryStore
	batches *BatchService
	secrets WebhookSecrets
}

func NewWebhookService(store QueryStore, batches *BatchService, secrets WebhookSecrets) *WebhookService {
	return &WebhookService{store: store, batches: batches, secrets: secrets}
}

// HandleStripe processes a Stripe event signed with the Stripe-Signature header.
func (s *WebhookService) HandleStripe(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	if s.secrets.StripeWebhookSecret == "" {
		observability.IncrementWebhookEvent(domain.ProviderStripe, "rejected")
		return nil, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.secrets.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		observability.IncrementWebhookEvent(domain.ProviderStripe, "rejected")
		zap.L().Warn("stripe webhook rejected", zap.Error(err))
		return nil, ErrInvalidSignature
	}

	eventType := string(event.Type)
	var batchID, reference string
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		batchID, reference = pi.Metadata["batch_id"], pi.ID
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return s.ignored(domain.ProviderStripe, eventType, "checkout session not paid"), nil
		}
		batchID, reference = session.Metadata["batch_id"], session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			reference = session.PaymentIntent.ID
		}
	default:
		return s.ignored(domain.ProviderStripe, eventType, "unhandled event type"), nil
	}

	return s.applyPayment(ctx, domain.ProviderStripe, eventType, batchID, reference)
}

// HandlePaystack processes a Paystack event signed with x-paystack-signature,
// the hex HMAC-SHA512 of the body keyed with the secret key.
func (s *WebhookService) HandlePaystack(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if !verifyHexHMAC(sha512.New, []byte(s.secrets.PaystackSecretKey), payload, signature) {
		observability.IncrementWebhookEvent(domain.ProviderPaystack, "rejected")
		return nil, ErrInvalidSignature
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string          `json:"reference"`
			Status    string          `json:"status"`
			Metadata  json.RawMessage `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Event != paystackEventChargeSuccess {
		return s.ignored(domain.ProviderPaystack, event.Event, "unhandled event type"), nil
	}
	if event.Data.Status != "" && event.Data.Status != "success" {
		return s.ignored(domain.ProviderPaystack, event.Event, "charge not successful"), nil
	}

	// metadata is an object when set and an empty string otherwise
	var meta map[string]any
	_ = json.Unmarshal(event.Data.Metadata, &meta)
	batchID, _ := meta["batch_id"].(string)

	return s.applyPayment(ctx, domain.ProviderPaystack, event.Event, batchID, event.Data.Reference)
}

// HandleGeneric processes an event signed as "sha256=<hex>" with the shared HMAC key.
func (s *WebhookService) HandleGeneric(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if !s.verifyGenericSignature(payload, signature) {
		observability.IncrementWebhookEvent("generic", "rejected")
		return nil, ErrInvalidSignature
	}

	var event GenericWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.EventType != GenericEventPaymentSucceeded {
		return s.ignored("generic", event.EventType, "unhandled event type"), nil
	}
	if event.Provider != "" && !domain.IsKnownProvider(event.Provider) {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidPayload, event.Provider)
	}
	return s.applyPayment(ctx, event.Provider, event.EventType, event.BatchID, strings.TrimSpace(event.ResourceID))
}

func (s *WebhookService) applyPayment(ctx context.Context, provider, eventType, batchIDHint, reference string) (*WebhookResult, error) {
	label := provider
	if label == "" {
		label = "generic"
	}

	batchID, err := s.resolveBatch(ctx, provider, batchIDHint, reference)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			zap.L().Warn("payment event does not match any batch",
				zap.String("provider", label),
				zap.String("event_type", eventType),
				zap.String("reference", reference))
			return s.ignored(label, eventType, "no matching batch"), nil
		}
		return nil, err
	}

	res, err := s.batches.MarkPaid(ctx, batchID, nil, "webhook:"+label)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return s.ignored(label, eventType, "no matching batch"), nil
		}
		return nil, err
	}
	observability.IncrementWebhookEvent(label, res.Status)
	return &WebhookResult{Provider: label, EventType: eventType, BatchID: &batchID, Status: res.Status}, nil
}

// resolveBatch prefers the batch id carried in metadata and falls back to the
// provider payment reference.
func (s *WebhookService) resolveBatch(ctx context.Context, provider, batchIDHint, reference string) (uuid.UUID, error) {
	q := s.store.Queries()
	if id, err := uuid.Parse(strings.TrimSpace(batchIDHint)); err == nil {
		rec, err := q.GetBatch(ctx, id)
		if err == nil && (provider == "" || rec.Provider == provider) {
			return rec.ID, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("get batch: %w", err)
		}
	}
	if reference == "" || provider == "" {
		return uuid.Nil, ErrBatchNotFound
	}
	rec, err := q.GetBatchByReference(ctx, provider, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, ErrBatchNotFound
		}
		return uuid.Nil, fmt.Errorf("get batch by reference: %w", err)
	}
	return rec.ID, nil
}

func (s *WebhookService) ignored(provider, eventType, reason string) *WebhookResult {
	observability.IncrementWebhookEvent(provider, WebhookStatusIgnored)
	zap.L().Info("webhook event ignored",
		zap.String("provider", provider),
		zap.String("event_type", eventType),
		zap.String("reason", reason))
	return &WebhookResult{Provider: provider, EventType: eventType, Status: WebhookStatusIgnored}
}

// verifyGenericSignature verifies the HMAC signature of the payload.
func (s *WebhookService) verifyGenericSignature(payload []byte, signature string) bool {
	if s.secrets.SkipGenericSignature {
		return true
	}
	sig, ok := strings.CutPrefix(strings.TrimSpace(signature), "sha256=")
	if !ok {
		return false
	}
	return verifyHexHMAC(sha256.New, []byte(s.secrets.GenericHMACKey), payload, sig)
}

// verifyHexHMAC compares the hex signature with the expected MAC in constant time.
func verifyHexHMAC(newHash func() hash.Hash, key, payload []byte, signature string) bool {
	if len(key) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, key)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
