package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesbot/internal/entities"
)

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create appends one exchange to the log. The insert runs in its own
// transaction and is rolled back on any error.
func (r *ConversationRepository) Create(ctx context.Context, sender, message, response string) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO conversations (sender, message, response)
			VALUES ($1, $2, $3)
			RETURNING id
		`, sender, message, response).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// List returns one page of the log, newest first. A non-empty query matches
// sender, message or response case-insensitively.
func (r *ConversationRepository) List(ctx context.Context, f entities.ConversationFilter) ([]entities.Conversation, int, error) {
	where, args := "", []any{}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = `WHERE sender ILIKE $1 OR message ILIKE $1 OR response ILIKE $1`
		args = append(args, "%"+escapeLike(q)+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT id, COALESCE(sender, ''), COALESCE(message, ''), COALESCE(response, ''), created_at
		FROM conversations %s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, f.PerPage, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entities.Conversation, error) {
		var c entities.Conversation
		err := row.Scan(&c.ID, &c.Sender, &c.Message, &c.Response, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan conversations: %w", err)
	}
	return items, total, nil
}

// Stats counts exchanges logged today, this month and overall, in the
// server's local time.
func (r *ConversationRepository) Stats(ctx context.Context) (entities.ConversationStats, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var s entities.ConversationStats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*)
		FROM conversations
	`, today, month).Scan(&s.Today, &s.Month, &s.Total)
	if err != nil {
		return s, fmt.Errorf("conversation stats: %w", err)
	}
	return s, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
