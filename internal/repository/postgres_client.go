package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"support-inbox-ai/internal/domain"
)

// Schema creates the tables PostgresClient reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT        NOT NULL,
	message_id      TEXT        NOT NULL,
	sender_role     TEXT        NOT NULL,
	content         TEXT        NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (conversation_id, message_id)
);
CREATE INDEX IF NOT EXISTS messages_recent_idx ON messages (conversation_id, created_at DESC);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	issue_category  TEXT,
	sentiment       TEXT,
	sentiment_score DOUBLE PRECISION,
	priority        TEXT,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_insights (
	conversation_id TEXT PRIMARY KEY,
	summary         TEXT        NOT NULL,
	analyzed_at     TIMESTAMPTZ NOT NULL
);
`

const (
	sqlLoadMessages = `
SELECT conversation_id, message_id, sender_role, content, created_at FROM (
	SELECT conversation_id, message_id, sender_role, content, created_at
	FROM messages
	WHERE conversation_id = $1
	ORDER BY created_at DESC, message_id DESC
	LIMIT $2
) recent
ORDER BY created_at ASC, message_id ASC`

	sqlInsertMessage = `
INSERT INTO messages (conversation_id, message_id, sender_role, content, created_at)
VALUES ($1, $2, $3, $4, $5)`

	sqlUpsertInsight = `
INSERT INTO ai_insights (conversation_id, summary, analyzed_at)
VALUES ($1, $2, $3)
ON CONFLICT (conversation_id) DO UPDATE SET summary = EXCLUDED.summary, analyzed_at = EXCLUDED.analyzed_at`

	sqlGetConversation = `
SELECT issue_category, sentiment, sentiment_score, priority FROM conversations WHERE id = $1`

	sqlGetInsight = `
SELECT summary, analyzed_at FROM ai_insights WHERE conversation_id = $1`
)

// pgxAPI is the subset of *pgxpool.Pool used by PostgresClient.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresClient stores conversation state in Postgres.
type PostgresClient struct {
	db  pgxAPI
	now func() time.Time
}

func NewPostgres(db pgxAPI) (*PostgresClient, error) {
	if db == nil {
		return nil, errors.New("repository: postgres pool must not be nil")
	}
	return &PostgresClient{db: db, now: time.Now}, nil
}

// ConnectPostgres opens a pool for connString and verifies it.
func ConnectPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies Schema. Every statement is idempotent.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("repository: EnsureSchema: %w", err)
	}
	return nil
}

func (p *PostgresClient) LoadMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.Query(ctx, sqlLoadMessages, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadMessages query: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			msg  domain.Message
			role string
		)
		if err := rows.Scan(&msg.ConversationID, &msg.MessageID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: LoadMessages scan: %w", err)
		}
		msg.SenderRole = domain.SenderRole(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: LoadMessages rows: %w", err)
	}
	return msgs, nil
}

func (p *PostgresClient) WriteMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.MessageID == "" {
		return errors.New("repository: WriteMessage: conversation id and message id are required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now().UTC()
	}
	_, err := p.db.Exec(ctx, sqlInsertMessage, msg.ConversationID, msg.MessageID, string(msg.SenderRole), msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: WriteMessage: %w", err)
	}
	return nil
}

// UpdateConversationFields upserts the conversation row, touching only the
// non-nil fields.
func (p *PostgresClient) UpdateConversationFields(ctx context.Context, conversationID string, fields domain.ConversationFields) error {
	if fields.Empty() {
		return nil
	}

	cols := []string{"id", "updated_at"}
	args := []any{conversationID, p.now().UTC()}
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if fields.IssueCategory != nil {
		add("issue_category", *fields.IssueCategory)
	}
	if fields.Sentiment != nil {
		add("sentiment", *fields.Sentiment)
	}
	if fields.SentimentScore != nil {
		add("sentiment_score", *fields.SentimentScore)
	}
	if fields.Priority != nil {
		add("priority", *fields.Priority)
	}

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		if col != "id" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	sql := "INSERT INTO conversations (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") +
		") ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")

	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("repository: UpdateConversationFields: %w", err)
	}
	return nil
}

func (p *PostgresClient) UpsertInsight(ctx context.Context, insight domain.Insight) error {
	if insight.ConversationID == "" {
		return errors.New("repository: UpsertInsight: conversation id is required")
	}
	if insight.AnalyzedAt.IsZero() {
		insight.AnalyzedAt = p.now().UTC()
	}
	if _, err := p.db.Exec(ctx, sqlUpsertInsight, insight.ConversationID, insight.Summary, insight.AnalyzedAt); err != nil {
		return fmt.Errorf("repository: UpsertInsight: %w", err)
	}
	return nil
}

func (p *PostgresClient) GetConversationFields(ctx context.Context, conversationID string) (domain.ConversationFields, error) {
	var fields domain.ConversationFields
	err := p.db.QueryRow(ctx, sqlGetConversation, conversationID).
		Scan(&fields.IssueCategory, &fields.Sentiment, &fields.SentimentScore, &fields.Priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConversationFields{}, nil
	}
	if err != nil {
		return domain.ConversationFields{}, fmt.Errorf("repository: GetConversationFields: %w", err)
	}
	return fields, nil
}

func (p *PostgresClient) GetInsight(ctx context.Context, conversationID string) (domain.Insight, bool, error) {
	insight := domain.Insight{ConversationID: conversationID}
	err := p.db.QueryRow(ctx, sqlGetInsight, conversationID).Scan(&insight.Summary, &insight.AnalyzedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Insight{}, false, nil
	}
	if err != nil {
		return domain.Insight{}, false, fmt.Errorf("repository: GetInsight: %w", err)
	}
	return insight, true, nil
}
