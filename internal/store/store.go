package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"localmind/config"
	"localmind/internal/agent"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("not found")

// Store persists users, runs and run steps in Postgres.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New opens a connection pool and verifies it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// User is an account row.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts an account. Duplicate emails surface as a unique
// violation the caller can test with IsUniqueViolation.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UserByEmail loads an account for login.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// SaveRun writes a completed run and its steps in one transaction.
func (s *Store) SaveRun(ctx context.Context, run agent.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta, err := json.Marshal(map[string]interface{}{"complexity": run.Complexity})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, session_id, query, answer, agents_used, tokens_used, cost, duration_ms, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'done', $10)`,
		run.ID, nullable(run.UserID), run.SessionID, run.Query, run.Answer,
		pq.Array(run.AgentsUsed), run.TokensUsed, run.Cost,
		run.Duration.Milliseconds(), meta,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	for i, step := range run.Steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, position, task_id, agent, success, content, sources, tokens_used, cost, duration_ms, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.ID, i, step.TaskID, step.Agent, step.Success, step.Content,
			pq.Array(step.Sources), step.TokensUsed, step.Cost,
			step.Duration.Milliseconds(), nullable(step.Error),
		)
		if err != nil {
			return fmt.Errorf("inserting run step %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// SaveFailedRun records a run that never produced an answer.
func (s *Store) SaveFailedRun(ctx context.Context, q agent.Query, runErr error) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, session_id, query, status, error)
		 VALUES ($1, $2, $3, $4, 'failed', $5)`,
		q.ID, nullable(q.UserID), q.SessionID, q.Content, runErr.Error(),
	)
	return err
}

// RunRecord is a stored run row.
type RunRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	AgentsUsed []string  `json:"agents_used"`
	TokensUsed int       `json:"tokens_used"`
	Cost       float64   `json:"cost"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Run loads one run by id.
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	var r RunRecord
	var userID, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, query, answer, agents_used, tokens_used, cost, duration_ms, status, error, created_at
		 FROM runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &userID, &r.SessionID, &r.Query, &r.Answer, pq.Array(&r.AgentsUsed),
		&r.TokensUsed, &r.Cost, &r.DurationMS, &r.Status, &errMsg, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	r.UserID = userID.String
	r.Error = errMsg.String
	return r, nil
}

// RunsBySession lists runs for a session, newest first.
func (s *Store) RunsBySession(ctx context.Context, sessionID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, query, answer, agents_used, tokens_used, cost, duration_ms, status, error, created_at
		 FROM runs WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var userID, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &userID, &r.SessionID, &r.Query, &r.Answer, pq.Array(&r.AgentsUsed),
			&r.TokensUsed, &r.Cost, &r.DurationMS, &r.Status, &errMsg, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.UserID = userID.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs older than the retention window. Returns the
// number of rows removed.
func (s *Store) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
