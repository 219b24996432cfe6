// Package collaborators implements the SQLite-backed default
// UserRepository, FriendRepository and ReportRepository the matching
// core treats as external collaborators, plus in-memory fakes for
// tests. A single writer goroutine serializes every mutation (SQLite
// tolerates one writer well and many readers badly mixed with writes)
// behind a pooled, pragma-tuned connection.
package collaborators

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pairbridge/pkg/types"
)

// Config controls the SQLite connection collaborators.Store opens.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane pool and file defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Path:            "./pairbridge.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

type writeOperation struct {
	run    func(*sql.DB) error
	result chan error
}

// Store is the SQLite-backed collaborator repository. One instance
// implements UserRepository, FriendRepository and ReportRepository.
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewStore opens cfg.Path, applies the embedded schema, and starts the
// single writer goroutine every mutating method queues through.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("collaborators: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("collaborators: migrate: %w", err)
	}

	s := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeChannel:
			err := op.run(s.db)
			if err != nil {
				log.Printf("collaborators: write failed, retrying in 5s: %v", err)
				time.Sleep(5 * time.Second)
				err = op.run(s.db)
				if err != nil {
					log.Printf("collaborators: write failed after retry: %v", err)
				}
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(run func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("collaborators: store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeChannel <- writeOperation{run: run, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("collaborators: write operation timed out")
	case <-s.shutdown:
		return fmt.Errorf("collaborators: store is shutting down")
	}
}

// GetUsername implements interfaces.UserRepository.
func (s *Store) GetUsername(ctx context.Context, userID string) (string, error) {
	var username string
	err := s.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", userID).Scan(&username)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("collaborators: get username: %w", err)
	}
	return username, nil
}

// IsBanned implements interfaces.UserRepository.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	var banned int
	err := s.db.QueryRowContext(ctx, "SELECT banned FROM users WHERE id = ?", userID).Scan(&banned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collaborators: check banned: %w", err)
	}
	return banned != 0, nil
}

// UpsertUser inserts or updates a user's display name and ban state.
func (s *Store) UpsertUser(ctx context.Context, userID, username string, banned bool) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, banned) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET username = excluded.username, banned = excluded.banned
		`, userID, username, boolToInt(banned))
		return err
	})
}

// AreFriends implements interfaces.FriendRepository. Friendship is
// symmetric; the table stores one row per unordered pair.
func (s *Store) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	a, b := userA, userB
	if a > b {
		a, b = b, a
	}
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM friends WHERE user_a = ? AND user_b = ?", a, b).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("collaborators: check friendship: %w", err)
	}
	return count > 0, nil
}

// AddFriend records a friendship between two users, idempotently.
func (s *Store) AddFriend(ctx context.Context, userA, userB string) error {
	a, b := userA, userB
	if a > b {
		a, b = b, a
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO friends (user_a, user_b) VALUES (?, ?)", a, b)
		return err
	})
}

// CreateReport implements interfaces.ReportRepository.
func (s *Store) CreateReport(ctx context.Context, report *types.Report) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO reports (id, reporter_id, reported_id, session_id, reason, description, created_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, report.ID, report.ReporterID, report.ReportedID, report.SessionID, report.Reason, report.Description, report.CreatedAt, report.Status)
		return err
	})
}

// HealthCheck verifies the connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
