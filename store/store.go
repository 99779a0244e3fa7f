// Package store persists conversation transcripts and code executions in
// SQLite so finished runs can be inspected and replayed.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/codeact/agent"
	"github.com/BaSui01/codeact/sandbox"
	"github.com/BaSui01/codeact/types"
)

// Session is one conversation.
type Session struct {
	ID        string `gorm:"primaryKey"`
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one conversation message, ordered by Seq within a session.
type Turn struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index:idx_turns_session_seq"`
	Seq       int    `gorm:"index:idx_turns_session_seq"`
	Role      string
	Content   string
	CreatedAt time.Time
}

// Execution is one code block run, keyed by the turn it belongs to and its
// position in the batch.
type Execution struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index"`
	Turn      int
	Block     int
	Code      string
	Success   bool
	Output    string
	Error     string
	Detail    string
	CreatedAt time.Time
}

// Store is the SQLite-backed transcript store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ agent.TranscriptSink = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations. Use
// ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Session{}, &Turn{}, &Execution{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// EnsureSession creates the session row if it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, id, model string) error {
	session := Session{ID: id, Model: model}
	return s.db.WithContext(ctx).
		Where(Session{ID: id}).
		FirstOrCreate(&session).Error
}

// SaveTurn appends one conversation message. The session row is created on
// first use so callers need no separate setup step.
func (s *Store) SaveTurn(ctx context.Context, conversationID string, seq int, msg types.Message) error {
	if err := s.EnsureSession(ctx, conversationID, ""); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&Turn{
		SessionID: conversationID,
		Seq:       seq,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}).Error
}

// SaveExecution records one code block run.
func (s *Store) SaveExecution(ctx context.Context, conversationID string, turn, block int, code string, result sandbox.Result) error {
	return s.db.WithContext(ctx).Create(&Execution{
		SessionID: conversationID,
		Turn:      turn,
		Block:     block,
		Code:      code,
		Success:   result.Success,
		Output:    result.Output,
		Error:     result.Error,
		Detail:    result.Detail,
	}).Error
}

// Transcript returns the session's messages in turn order.
func (s *Store) Transcript(ctx context.Context, conversationID string) ([]types.Message, error) {
	var turns []Turn
	err := s.db.WithContext(ctx).
		Where("session_id = ?", conversationID).
		Order("seq ASC").
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, types.Message{
			Role:      types.Role(t.Role),
			Content:   t.Content,
			Timestamp: t.CreatedAt,
		})
	}
	return out, nil
}

// Executions returns the session's code runs in insertion order.
func (s *Store) Executions(ctx context.Context, conversationID string) ([]Execution, error) {
	var execs []Execution
	err := s.db.WithContext(ctx).
		Where("session_id = ?", conversationID).
		Order("id ASC").
		Find(&execs).Error
	return execs, err
}

// Sessions lists all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
