package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// TurnLog is the durable append-only record of exchanges. It is an optional
// collaborator: the scheduler treats append failures as non-fatal.
type TurnLog interface {
	AppendTurn(ctx context.Context, conv *Conversation, turn Turn) error
	ListTurns(ctx context.Context, conversationID string) ([]Turn, error)
}

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        string    `bun:"id,pk"`
	AccountID string    `bun:"account_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type turnRow struct {
	bun.BaseModel `bun:"table:turns,alias:t"`

	ConversationID string    `bun:"conversation_id,pk"`
	Seq            int       `bun:"seq,pk"`
	Utterance      string    `bun:"utterance,notnull"`
	Response       string    `bun:"response,notnull"`
	At             time.Time `bun:"at,notnull"`
}

type PostgresTurnLogConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

// PostgresTurnLog persists conversations and turns in Postgres through bun.
type PostgresTurnLog struct {
	db      *bun.DB
	timeout time.Duration
}

func NewPostgresTurnLog(cfg PostgresTurnLogConfig) (*PostgresTurnLog, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithTimeout(timeout)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresTurnLog{db: db, timeout: timeout}, nil
}

// Migrate creates the backing tables if they do not exist.
func (l *PostgresTurnLog) Migrate(ctx context.Context) error {
	if _, err := l.db.NewCreateTable().Model((*conversationRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	if _, err := l.db.NewCreateTable().Model((*turnRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}
	return nil
}

func (l *PostgresTurnLog) AppendTurn(ctx context.Context, conv *Conversation, turn Turn) error {
	if conv == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(conv.ConversationID) == "" {
		return ErrInvalidConversation
	}

	return l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		convRow := &conversationRow{
			ID:        conv.ConversationID,
			AccountID: conv.AccountID,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
		if _, err := tx.NewInsert().
			Model(convRow).
			On("CONFLICT (id) DO UPDATE").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		row := &turnRow{
			ConversationID: conv.ConversationID,
			Seq:            turn.Seq,
			Utterance:      turn.Utterance,
			Response:       turn.Response,
			At:             turn.At,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert turn seq=%d: %w", turn.Seq, err)
		}
		return nil
	})
}

func (l *PostgresTurnLog) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}

	var rows []turnRow
	if err := l.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	turns := make([]Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, Turn{
			Seq:       row.Seq,
			Utterance: row.Utterance,
			Response:  row.Response,
			At:        row.At,
		})
	}
	return turns, nil
}

func (l *PostgresTurnLog) Close() error {
	return l.db.Close()
}
