package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists records in a local SQLite database
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (and if necessary creates) the database at dbPath
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLite{db: db, dbPath: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// migrate ensures the database schema is up to date
func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		connection_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		connected_at DATETIME NOT NULL,
		connected BOOLEAN NOT NULL DEFAULT TRUE,
		subscriptions TEXT NOT NULL DEFAULT '[]',
		acked TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS operations (
		operation_id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		feature_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		message_count INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_operations_feature ON operations(feature_id);
	CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveConnection saves or replaces a connection record
func (s *SQLite) SaveConnection(rec *ConnectionRecord) error {
	subs, err := json.Marshal(rec.Subscriptions)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}
	acked, err := json.Marshal(rec.Acked)
	if err != nil {
		return fmt.Errorf("failed to marshal acked sequences: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO connections (connection_id, session_id, user_id, connected_at, connected, subscriptions, acked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			session_id = excluded.session_id,
			user_id = excluded.user_id,
			connected_at = excluded.connected_at,
			connected = excluded.connected,
			subscriptions = excluded.subscriptions,
			acked = excluded.acked`,
		rec.ConnectionID, rec.SessionID, rec.UserID, rec.ConnectedAt, rec.Connected, string(subs), string(acked))
	if err != nil {
		return fmt.Errorf("failed to save connection %s: %w", rec.ConnectionID, err)
	}
	return nil
}

// GetConnection returns a connection record or nil if unknown
func (s *SQLite) GetConnection(connectionID string) (*ConnectionRecord, error) {
	row := s.db.QueryRow(`
		SELECT connection_id, session_id, user_id, connected_at, connected, subscriptions, acked
		FROM connections WHERE connection_id = ?`, connectionID)

	var rec ConnectionRecord
	var subs, acked string
	err := row.Scan(&rec.ConnectionID, &rec.SessionID, &rec.UserID, &rec.ConnectedAt, &rec.Connected, &subs, &acked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	if err := json.Unmarshal([]byte(subs), &rec.Subscriptions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriptions: %w", err)
	}
	if err := json.Unmarshal([]byte(acked), &rec.Acked); err != nil {
		return nil, fmt.Errorf("failed to unmarshal acked sequences: %w", err)
	}
	return &rec, nil
}

// SaveOperation saves or replaces an operation record
func (s *SQLite) SaveOperation(rec *OperationRecord) error {
	var result sql.NullString
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	var completedAt sql.NullTime
	if rec.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO operations (operation_id, operation_type, feature_id, user_id, status, progress,
			started_at, completed_at, message_count, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			completed_at = excluded.completed_at,
			message_count = excluded.message_count,
			result = excluded.result,
			error = excluded.error`,
		rec.OperationID, rec.OperationType, rec.FeatureID, rec.UserID, rec.Status, rec.Progress,
		rec.StartedAt, completedAt, rec.MessageCount, result, nullableString(rec.Error))
	if err != nil {
		return fmt.Errorf("failed to save operation %s: %w", rec.OperationID, err)
	}
	return nil
}

// GetOperation returns an operation record or nil if unknown
func (s *SQLite) GetOperation(operationID string) (*OperationRecord, error) {
	row := s.db.QueryRow(`
		SELECT operation_id, operation_type, feature_id, user_id, status, progress,
			started_at, completed_at, message_count, result, error
		FROM operations WHERE operation_id = ?`, operationID)

	rec, err := scanOperation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation %s: %w", operationID, err)
	}
	return rec, nil
}

// ListOperations lists operation records, optionally filtered by feature
func (s *SQLite) ListOperations(featureID string) ([]*OperationRecord, error) {
	query := `
		SELECT operation_id, operation_type, feature_id, user_id, status, progress,
			started_at, completed_at, message_count, result, error
		FROM operations`
	args := []interface{}{}
	if featureID != "" {
		query += " WHERE feature_id = ?"
		args = append(args, featureID)
	}
	query += " ORDER BY started_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []*OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOperation(scan func(dest ...interface{}) error) (*OperationRecord, error) {
	var rec OperationRecord
	var completedAt sql.NullTime
	var result, errMsg sql.NullString

	err := scan(&rec.OperationID, &rec.OperationType, &rec.FeatureID, &rec.UserID, &rec.Status,
		&rec.Progress, &rec.StartedAt, &completedAt, &rec.MessageCount, &result, &errMsg)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	return &rec, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
