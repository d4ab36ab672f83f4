package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
)

var (
	ErrSessionNotEstablished = errors.New("database: session not established")
	ErrSettleInterrupted     = errors.New("database: settle interval interrupted")
	ErrNoFreezeID            = errors.New("database: freeze returned no backup id")
)

const DefaultFailureReason = "storage snapshot failed or timed out"

type SessionConfig struct {
	Connection    ConnectionConfig
	Statements    Statements
	FailureReason string
	Logger        *logger.Logger
}

// Session is the agent's single database connection. Statement sequences
// never interleave: the session mutex is held from Begin to Commit.
type Session struct {
	conn          ConnectionConfig
	stmts         *statementSet
	failureReason string
	logger        *logger.Logger

	mu   sync.Mutex
	db   *gorm.DB
	open atomic.Bool
}

func NewSession(cfg SessionConfig) (*Session, error) {
	stmts, err := parseStatements(cfg.Statements)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:          cfg.Connection,
		stmts:         stmts,
		failureReason: cfg.FailureReason,
		logger:        cfg.Logger,
	}
	if s.failureReason == "" {
		s.failureReason = DefaultFailureReason
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	return s, nil
}

// Open connects with the given credentials and replaces any previous
// connection once the new one answers a ping.
func (s *Session) Open(ctx context.Context, user, password string) error {
	dsn, err := s.conn.DSN(user, password)
	if err != nil {
		return err
	}
	pool, err := s.conn.openPool(dsn)
	if err != nil {
		return fmt.Errorf("database: open: %w", err)
	}

	pingCtx := ctx
	if s.conn.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, s.conn.ConnectTimeout)
		defer cancel()
	}
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return fmt.Errorf("database: connect %s:%d: %w", s.conn.Host, s.conn.Port, err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: pool}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("database: open: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.db = gdb
	s.open.Store(true)

	s.logger.Infow("database_connected",
		"vendor", s.conn.Vendor, "host", s.conn.Host, "port", s.conn.Port, "instance", s.conn.Instance)
	return nil
}

func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// Freeze issues the freeze statement, resolves its backup id, waits for
// settle and commits. When the wait is cut short by ctx the id is returned
// with ErrSettleInterrupted so the caller can close the freeze.
func (s *Session) Freeze(ctx context.Context, label string, settle time.Duration) (string, error) {
	freezeSQL, err := render(s.stmts.freeze, StatementData{Label: label})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", ErrSessionNotEstablished
	}

	tx := s.db.WithContext(context.WithoutCancel(ctx)).Begin()
	if tx.Error != nil {
		return "", fmt.Errorf("database: begin: %w", tx.Error)
	}
	defer s.rollback(tx)

	var freezeID string
	if s.stmts.pending == nil {
		if err := tx.Raw(freezeSQL).Row().Scan(&freezeID); err != nil {
			return "", fmt.Errorf("database: freeze: %w", err)
		}
	} else {
		if err := tx.Exec(freezeSQL).Error; err != nil {
			return "", fmt.Errorf("database: freeze: %w", err)
		}
		ids, err := s.pendingIDs(tx)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", ErrNoFreezeID
		}
		freezeID = ids[len(ids)-1]
	}

	if settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return freezeID, ErrSettleInterrupted
		}
	}

	if err := tx.Commit().Error; err != nil {
		return freezeID, fmt.Errorf("database: commit freeze: %w", err)
	}
	return freezeID, nil
}

// PendingFreezeIDs lists prepared backup ids in catalog order.
func (s *Session) PendingFreezeIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrSessionNotEstablished
	}
	if s.stmts.pending == nil {
		return nil, nil
	}
	return s.pendingIDs(s.db.WithContext(ctx))
}

func (s *Session) pendingIDs(tx *gorm.DB) ([]string, error) {
	query, err := render(s.stmts.pending, StatementData{})
	if err != nil {
		return nil, err
	}
	rows, err := tx.Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("database: pending freeze ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("database: pending freeze ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Thaw closes the freeze identified by freezeID, confirming it with label on
// success or recording the configured failure reason otherwise.
func (s *Session) Thaw(ctx context.Context, freezeID string, success bool, label string) error {
	thawSQL, err := render(s.stmts.thaw, StatementData{
		Label:    label,
		FreezeID: freezeID,
		Success:  success,
		Reason:   s.failureReason,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrSessionNotEstablished
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("database: begin: %w", tx.Error)
	}
	defer s.rollback(tx)

	if err := tx.Exec(thawSQL).Error; err != nil {
		return fmt.Errorf("database: thaw %s: %w", freezeID, err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("database: commit thaw %s: %w", freezeID, err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.open.Store(false)
	if s.db == nil {
		return nil
	}
	pool, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return pool.Close()
}

// rollback always runs after a statement sequence; after a commit it is a
// no-op.
func (s *Session) rollback(tx *gorm.DB) {
	err := tx.Rollback().Error
	if err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Warnw("database_rollback_failed", "error", err)
	}
}
