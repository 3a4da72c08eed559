package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/quingcraft/gatekeeper/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS whitelist_requests (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	requester_id       TEXT NOT NULL,
	target_username    TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	reason             TEXT,
	created_at         TIMESTAMP NOT NULL,
	processed_at       TIMESTAMP,
	processed_by       TEXT,
	routing_message_id TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_requester
	ON whitelist_requests (requester_id) WHERE status = 'pending';
CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_target
	ON whitelist_requests (lower(target_username)) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_target_status
	ON whitelist_requests (lower(target_username), status);
`

const requestColumns = `id, requester_id, target_username, status, reason, created_at, processed_at, processed_by, routing_message_id`

// SQLiteStore implements RequestStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver is not safe for concurrent writes over multiple
	// connections; a single connection with WAL keeps writers serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle. The caller is
// responsible for the schema. Used by tests with sqlmock.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new pending request and assigns its ID.
func (s *SQLiteStore) Create(ctx context.Context, req *models.WhitelistRequest) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelist_requests (requester_id, target_username, status, reason, created_at, routing_message_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		req.RequesterID,
		req.TargetUsername,
		string(req.Status),
		nullableString(req.Reason),
		req.CreatedAt,
		nullableString(req.RoutingMessageID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ID = id
	return nil
}

// Get returns the request with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.WhitelistRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM whitelist_requests WHERE id = ?
	`, id)
	return scanRequest(row)
}

// GetPendingByRequester returns the requester's pending request.
func (s *SQLiteStore) GetPendingByRequester(ctx context.Context, requesterID string) (*models.WhitelistRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM whitelist_requests
		WHERE requester_id = ? AND status = 'pending'
	`, requesterID)
	return scanRequest(row)
}

// GetPendingByTarget returns the pending request for a target username.
func (s *SQLiteStore) GetPendingByTarget(ctx context.Context, target string) (*models.WhitelistRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM whitelist_requests
		WHERE lower(target_username) = lower(?) AND status = 'pending'
	`, target)
	return scanRequest(row)
}

// TransitionStatus performs the guarded status update. A false return with
// nil error means the guard matched zero rows.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, id int64, from, to models.RequestStatus, processedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE whitelist_requests
		SET status = ?, processed_at = ?, processed_by = ?
		WHERE id = ? AND status = ?
	`, string(to), time.Now().UTC(), processedBy, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition request %d: %w", id, err)
	}
	return n > 0, nil
}

// SetRoutingMessageID persists the routing message id for a request.
func (s *SQLiteStore) SetRoutingMessageID(ctx context.Context, id int64, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE whitelist_requests SET routing_message_id = ? WHERE id = ?
	`, messageID, id)
	if err != nil {
		return fmt.Errorf("set routing message for request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set routing message for request %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns all pending requests, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.WhitelistRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM whitelist_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.WhitelistRequest
	for rows.Next() {
		req, err := scanRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// GetMostRecentApproved returns the newest approved request for a target.
func (s *SQLiteStore) GetMostRecentApproved(ctx context.Context, target string) (*models.WhitelistRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM whitelist_requests
		WHERE lower(target_username) = lower(?) AND status = 'approved'
		ORDER BY processed_at DESC, id DESC
		LIMIT 1
	`, target)
	return scanRequest(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row *sql.Row) (*models.WhitelistRequest, error) {
	req, err := scanRequestRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

func scanRequestRows(row rowScanner) (*models.WhitelistRequest, error) {
	var (
		req       models.WhitelistRequest
		status    string
		reason    sql.NullString
		processed sql.NullTime
		by        sql.NullString
		routing   sql.NullString
	)
	err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.TargetUsername,
		&status,
		&reason,
		&req.CreatedAt,
		&processed,
		&by,
		&routing,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	req.Status = models.RequestStatus(status)
	if reason.Valid {
		req.Reason = &reason.String
	}
	if processed.Valid {
		t := processed.Time
		req.ProcessedAt = &t
	}
	if by.Valid {
		req.ProcessedBy = &by.String
	}
	if routing.Valid {
		req.RoutingMessageID = &routing.String
	}
	return &req, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
