package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/author-payouts/internal/models"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/google/uuid"
)

var ErrRecipientNotFound = errors.New("recipient not found")

type UpsertRecipientRequest struct {
	DisplayName           string  `json:"display_name" validate:"max=200"`
	StripeAccountID       *string `json:"stripe_account_id" validate:"omitempty,startswith=acct_,max=255"`
	PaystackRecipientCode *string `json:"paystack_recipient_code" validate:"omitempty,startswith=RCP_,max=255"`
}

// RecipientService keeps the payout identities of authors and publishers.
type RecipientService struct {
	store QueryStore
	audit *AuditService
}

func NewRecipientService(store QueryStore) *RecipientService {
	return &RecipientService{store: store, audit: NewAuditService(store)}
}

func (s *RecipientService) Upsert(ctx context.Context, id uuid.UUID, req UpsertRecipientRequest, actorID *uuid.UUID) (*models.Recipient, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.StripeAccountID = trimmedOrNil(req.StripeAccountID)
	req.PaystackRecipientCode = trimmedOrNil(req.PaystackRecipientCode)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var out models.Recipient
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		r, err := qtx.UpsertRecipient(ctx, repository.UpsertRecipientParams{
			ID:                    id,
			DisplayName:           req.DisplayName,
			StripeAccountID:       req.StripeAccountID,
			PaystackRecipientCode: req.PaystackRecipientCode,
		})
		if err != nil {
			return err
		}
		out = r
		return s.audit.Write(ctx, qtx, entityRecipient, id, actorID, "recipient.upserted", "", "",
			auditMetadata(map[string]any{
				"stripe_account_id":       deref(req.StripeAccountID),
				"paystack_recipient_code": deref(req.PaystackRecipientCode),
			}))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RecipientService) Get(ctx context.Context, id uuid.UUID) (*models.Recipient, error) {
	r, err := s.store.Queries().GetRecipient(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &r, nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
