package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/models"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrBatchNotEligible = errors.New("batch is not eligible for payout")
	ErrDuplicateBatch   = errors.New("batch already registered for this payment reference")
)

var validate = validator.New()

// maxUnitPrice caps a line's unit price in major units. With the quantity cap
// it keeps every line total and batch total inside int64 minor units.
var maxUnitPrice = decimal.NewFromInt(1_000_000_000)

// Enqueuer schedules a reconciliation run for a batch. Delivery is at least once.
type Enqueuer interface {
	Enqueue(ctx context.Context, batchID uuid.UUID) error
}

type RegisterBatchRequest struct {
	Kind                     string                `json:"kind" validate:"required,oneof=order digital_purchase"`
	Provider                 string                `json:"provider" validate:"required,oneof=stripe paystack"`
	Currency                 string                `json:"currency" validate:"required,len=3,alpha"`
	ExternalPaymentReference string                `json:"external_payment_reference" validate:"required,max=255"`
	Items                    []RegisterItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

type RegisterItemRequest struct {
	RecipientID uuid.UUID       `json:"recipient_id" validate:"required"`
	Quantity    int64           `json:"quantity" validate:"gte=0,lte=1000000"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type MarkPaidResult struct {
	BatchID uuid.UUID `json:"batch_id"`
	// Status is "paid" when this call flipped the batch and "duplicate" when it was already paid.
	Status string `json:"status"`
}

// BatchService registers checkout batches and moves them into payout.
type BatchService struct {
	store    QueryStore
	enqueuer Enqueuer
	audit    *AuditService
}

func NewBatchService(store QueryStore, enqueuer Enqueuer) *BatchService {
	return &BatchService{
		store:    store,
		enqueuer: enqueuer,
		audit:    NewAuditService(store),
	}
}

// Register stores a new batch and its items, all pending and unpaid.
func (s *BatchService) Register(ctx context.Context, req RegisterBatchRequest, actorID *uuid.UUID) (*models.BatchView, error) {
	req.Currency = domain.NormalizeCurrency(req.Currency)
	req.ExternalPaymentReference = strings.TrimSpace(req.ExternalPaymentReference)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rec := &domain.BatchRecord{
		ID:                       uuid.New(),
		Kind:                     req.Kind,
		Provider:                 req.Provider,
		Currency:                 req.Currency,
		ExternalPaymentReference: req.ExternalPaymentReference,
	}
	for i, it := range req.Items {
		qty := it.Quantity
		if qty == 0 && req.Kind == domain.BatchKindDigitalPurchase {
			qty = 1
		}
		if qty < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrInvalidRequest, i)
		}
		if qty > 1 && req.Kind == domain.BatchKindDigitalPurchase {
			return nil, fmt.Errorf("%w: items[%d].quantity must be 1 for a digital purchase", ErrInvalidRequest, i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d].unit_price must not be negative", ErrInvalidRequest, i)
		}
		if it.UnitPrice.GreaterThan(maxUnitPrice) {
			return nil, fmt.Errorf("%w: items[%d].unit_price must be at most %s", ErrInvalidRequest, i, maxUnitPrice)
		}
		unitMinor, err := domain.MinorUnits(it.UnitPrice, req.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d].unit_price: %v", ErrInvalidRequest, i, err)
		}
		if !domain.FromMinorUnits(unitMinor, req.Currency).Equal(it.UnitPrice) {
			return nil, fmt.Errorf("%w: items[%d].unit_price has more precision than %s allows", ErrInvalidRequest, i, req.Currency)
		}
		rec.Items = append(rec.Items, &domain.LedgerItem{
			ID:           uuid.New(),
			BatchID:      rec.ID,
			RecipientID:  it.RecipientID,
			Quantity:     qty,
			UnitPrice:    it.UnitPrice,
			Currency:     req.Currency,
			PayoutStatus: domain.ItemStatusPending,
		})
	}

	batch, err := domain.NewBatch(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var totalMinor int64
	for i, item := range batch.Items() {
		lineMinor, err := domain.MinorUnits(batch.LineTotal(item), rec.Currency)
		if err == nil {
			totalMinor, err = domain.AddMinor(totalMinor, lineMinor)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d]: batch total %v", ErrInvalidRequest, i, err)
		}
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		_, err := qtx.GetBatchByReference(ctx, rec.Provider, rec.ExternalPaymentReference)
		if err == nil {
			return ErrDuplicateBatch
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check payment reference: %w", err)
		}

		if err := qtx.InsertBatch(ctx, repository.InsertBatchParams{
			ID:                       rec.ID,
			Kind:                     rec.Kind,
			Provider:                 rec.Provider,
			Currency:                 rec.Currency,
			TotalMinor:               totalMinor,
			ExternalPaymentReference: rec.ExternalPaymentReference,
		}); err != nil {
			return err
		}
		for i, item := range rec.Items {
			if err := qtx.InsertItem(ctx, repository.InsertItemParams{
				ID:             item.ID,
				BatchID:        rec.ID,
				Position:       i,
				RecipientID:    item.RecipientID,
				Quantity:       item.Quantity,
				UnitPriceMinor: domain.ToMinorUnits(item.UnitPrice, rec.Currency),
				Currency:       rec.Currency,
			}); err != nil {
				return err
			}
		}
		return s.audit.Write(ctx, qtx, entityBatch, rec.ID, actorID, "payout_batch.registered", "", domain.BatchStatusPending,
			auditMetadata(map[string]any{
				"kind":                       rec.Kind,
				"provider":                   rec.Provider,
				"external_payment_reference": rec.ExternalPaymentReference,
				"total_minor":                totalMinor,
				"items":                      len(rec.Items),
			}))
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("batch registered",
		zap.String("batch_id", rec.ID.String()),
		zap.String("kind", rec.Kind),
		zap.Int64("total_minor", totalMinor),
		zap.Int("items", len(rec.Items)))
	return s.Get(ctx, rec.ID)
}

// Get returns the batch with every item and its payout state.
func (s *BatchService) Get(ctx context.Context, id uuid.UUID) (*models.BatchView, error) {
	rec, err := s.store.Queries().LoadBatch(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}
	return toBatchView(rec), nil
}

// MarkPaid flips the batch payment status to paid and schedules its payout.
// Repeated calls are no-ops reported as "duplicate".
func (s *BatchService) MarkPaid(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, source string) (*MarkPaidResult, error) {
	flipped := false
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.MarkBatchPaid(ctx, id)
		if err != nil {
			return fmt.Errorf("mark batch paid: %w", err)
		}
		if rows == 0 {
			if _, err := qtx.GetBatch(ctx, id); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrBatchNotFound
				}
				return fmt.Errorf("get batch: %w", err)
			}
			return nil
		}
		if err := requireExactlyOne(rows, "mark batch paid"); err != nil {
			return err
		}
		flipped = true
		return s.audit.Write(ctx, qtx, entityBatch, id, actorID, "payout_batch.paid",
			domain.PaymentStatusUnpaid, domain.PaymentStatusPaid,
			auditMetadata(map[string]any{"source": source}))
	})
	if err != nil {
		return nil, err
	}

	if !flipped {
		zap.L().Info("batch already paid", zap.String("batch_id", id.String()), zap.String("source", source))
		return &MarkPaidResult{BatchID: id, Status: "duplicate"}, nil
	}

	zap.L().Info("batch marked paid", zap.String("batch_id", id.String()), zap.String("source", source))
	s.enqueue(ctx, id)
	return &MarkPaidResult{BatchID: id, Status: domain.PaymentStatusPaid}, nil
}

// Reconcile schedules a manual re-run for a paid batch.
func (s *BatchService) Reconcile(ctx context.Context, id uuid.UUID) error {
	rec, err := s.store.Queries().GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrBatchNotFound
		}
		return fmt.Errorf("get batch: %w", err)
	}
	if rec.PaymentStatus != domain.PaymentStatusPaid {
		return ErrBatchNotEligible
	}
	if err := s.enqueuer.Enqueue(ctx, id); err != nil {
		return fmt.Errorf("enqueue reconciliation: %w", err)
	}
	return nil
}

// enqueue does not fail the caller: the sweeper picks up paid batches that never
// made it onto the queue.
func (s *BatchService) enqueue(ctx context.Context, id uuid.UUID) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.Enqueue(ctx, id); err != nil {
		zap.L().Error("enqueue reconciliation failed, leaving batch to the sweeper",
			zap.String("batch_id", id.String()), zap.Error(err))
	}
}

func toBatchView(rec *domain.BatchRecord) *models.BatchView {
	view := &models.BatchView{
		ID:                       rec.ID,
		Kind:                     rec.Kind,
		Provider:                 rec.Provider,
		Currency:                 rec.Currency,
		TotalAmount:              domain.FormatAmount(rec.TotalAmount, rec.Currency),
		PlatformFeeAmount:        domain.FormatAmount(rec.PlatformFeeAmount, rec.Currency),
		PayoutStatus:             domain.ExternalPayoutStatus(rec.PayoutStatus),
		PayoutStatusDetail:       rec.PayoutStatus,
		PaymentStatus:            rec.PaymentStatus,
		ExternalPaymentReference: rec.ExternalPaymentReference,
		Items:                    make([]models.ItemView, 0, len(rec.Items)),
		CreatedAt:                rec.CreatedAt,
		UpdatedAt:                rec.UpdatedAt,
	}
	for _, item := range rec.Items {
		view.Items = append(view.Items, models.ItemView{
			ID:                 item.ID,
			RecipientID:        item.RecipientID,
			Quantity:           item.Quantity,
			UnitPrice:          domain.FormatAmount(item.UnitPrice, item.Currency),
			AuthorPayoutAmount: domain.FormatAmount(item.AuthorPayoutAmount, item.Currency),
			PlatformFeeAmount:  domain.FormatAmount(item.PlatformFeeAmount, item.Currency),
			PayoutStatus:       item.PayoutStatus,
			PayoutError:        item.PayoutError,
			ProviderTransferID: item.ProviderTransferID,
			Attempt:            item.Attempt,
			Retryable:          item.Retryable,
		})
	}
	return view
}
