package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	entityBatch     = "payout_batch"
	entityItem      = "payout_item"
	entityRecipient = "recipient"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	var meta *string
	if len(metadata) > 0 {
		m := string(metadata)
		meta = &m
	}

	if err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   meta,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func auditMetadata(fields map[string]any) []byte {
	if len(fields) == 0 {
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		zap.L().Warn("encode audit metadata", zap.Error(err))
		return nil
	}
	return b
}
