package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentEscrow/internal/errors"
)

// MySQLConfig holds the MySQL connection settings.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore persists delivery records in MySQL.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore connects and applies the embedded migrations.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN is required")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newMySQLStore(db), nil
}

func newMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

const deliveryColumns = `id, transaction_id, service_id, payload, verified, delivered_at, status, attempts, max_retries,
        last_error, error_code, outcome, created_at, updated_at`

// Create inserts a record. A duplicate ID returns ErrDeliveryConflict.
func (s *MySQLStore) Create(ctx context.Context, d *Delivery) error {
	if d == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery is required")
	}
	if strings.TrimSpace(d.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery ID is required")
	}

	now := s.now().Unix()
	d.CreatedAt = now
	d.UpdatedAt = now

	const stmt = `INSERT INTO webhook_deliveries
        (id, transaction_id, service_id, payload, verified, delivered_at, status, attempts, max_retries, last_error, error_code, outcome, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		d.ID,
		d.TransactionID,
		d.ServiceID,
		payloadValue(d.Payload),
		d.Verified,
		d.DeliveredAt,
		string(d.Status),
		d.Attempts,
		d.MaxRetries,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDeliveryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert delivery")
	}
	return nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query delivery")
	}
	return d, nil
}

// Claim marks the record running and returns its updated state.
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Delivery, error) {
	const stmt = `UPDATE webhook_deliveries SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusRunning),
		s.now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "update delivery status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read affected rows")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return current, nil
	}
	switch {
	case current.Status == StatusSucceeded:
		return current, ErrDeliveryCompleted
	case current.Status == StatusRunning:
		return current, ErrDeliveryConflict
	case current.Attempts >= current.MaxRetries:
		return current, ErrDeliveryExhausted
	default:
		return current, ErrDeliveryConflict
	}
}

// MarkSucceeded implements Store.
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, outcome string) error {
	const stmt = `UPDATE webhook_deliveries SET status = ?, outcome = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), outcome, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark delivery succeeded")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkFailed records a failure. A terminal failure can no longer be claimed.
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE webhook_deliveries SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE webhook_deliveries SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = GREATEST(attempts, max_retries) WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, stmt, string(StatusFailed), lastError, string(code), s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark delivery failed")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// List returns the records matching opts.
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Delivery, error) {
	opts.applyDefaults()

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list deliveries")
	}
	defer rows.Close()

	out := make([]*Delivery, 0, opts.Limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan delivery")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate deliveries")
	}
	return out, nil
}

// Stats aggregates the records matching opts.
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM webhook_deliveries`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query delivery stats")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close closes the database handle.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var (
		d       Delivery
		payload sql.NullString
		status  string
	)
	if err := row.Scan(
		&d.ID,
		&d.TransactionID,
		&d.ServiceID,
		&payload,
		&d.Verified,
		&d.DeliveredAt,
		&status,
		&d.Attempts,
		&d.MaxRetries,
		&d.LastError,
		&d.ErrorCode,
		&d.Outcome,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	if payload.Valid && payload.String != "" {
		d.Payload = json.RawMessage(payload.String)
	}
	return &d, nil
}

func payloadValue(payload json.RawMessage) sql.NullString {
	if len(payload) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(payload), Valid: true}
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Verified != nil {
		conditions = append(conditions, "verified = ?")
		args = append(args, *opts.Verified)
	}
	if opts.TransactionID != "" {
		conditions = append(conditions, "transaction_id = ?")
		args = append(args, opts.TransactionID)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
