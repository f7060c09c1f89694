package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// AuditStore records engine events (aborts, leg failures, fatal halts) in
// the audit_log table.
type AuditStore struct {
	c *Client
}

// NewAuditStore creates an AuditStore on c.
func NewAuditStore(c *Client) *AuditStore {
	return &AuditStore{c: c}
}

// Log appends an event. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.c.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, data); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// Recent returns the latest events, newest first, optionally filtered by
// event name.
func (s *AuditStore) Recent(ctx context.Context, event string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultRecentTrades
	}
	query := `SELECT id, event, detail, created_at FROM audit_log`
	args := []any{}
	if event != "" {
		query += ` WHERE event = $1`
		args = append(args, event)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return out, nil
}

var _ domain.AuditLog = (*AuditStore)(nil)
