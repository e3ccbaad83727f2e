package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/author-payouts/internal/models"
	"github.com/google/uuid"
)

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   *string
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
		time.Now().UnixMilli(),
	)
	return err
}

// ListAuditLog returns the trail of a single entity, oldest first.
func (q *Queries) ListAuditLog(ctx context.Context, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.query(ctx, `
		SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
		FROM audit_log WHERE entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action,
			&e.PrevState, &e.NextState, &e.Metadata, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAuditActions counts entries with the given action for an entity.
func (q *Queries) CountAuditActions(ctx context.Context, entityID uuid.UUID, action string) (int64, error) {
	var n int64
	err := q.db.queryRow(ctx, `SELECT COUNT(*) FROM audit_log WHERE entity_id = ? AND action = ?`, entityID, action).Scan(&n)
	return n, err
}
