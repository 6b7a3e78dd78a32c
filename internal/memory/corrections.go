package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/models"
)

// SQLiteCorrectionStore implements CorrectionStore using SQLite
type SQLiteCorrectionStore struct {
	db *sql.DB
}

// NewSQLiteCorrectionStore opens (or creates) the correction journal at dbPath
func NewSQLiteCorrectionStore(dbPath string) (*SQLiteCorrectionStore, error) {
	dbPath = config.ExpandPath(dbPath)

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between pool members
	db.SetMaxOpenConns(1)

	store := &SQLiteCorrectionStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the corrections table
func (s *SQLiteCorrectionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		user_id TEXT,
		command_text TEXT NOT NULL,
		intent TEXT NOT NULL,
		incorrect_response TEXT,
		correction TEXT,
		learned BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_intent ON corrections(intent);
	CREATE INDEX IF NOT EXISTS idx_corrections_timestamp ON corrections(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record inserts a correction, assigning an ID when missing
func (s *SQLiteCorrectionStore) Record(ctx context.Context, c *models.MistakeCorrection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := `
		INSERT INTO corrections (
			id, timestamp, user_id, command_text, intent, incorrect_response, correction, learned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.Timestamp.UTC(),
		c.UserID,
		c.CommandText,
		string(c.Intent),
		c.IncorrectResponse,
		c.Correction,
		c.Learned,
	)
	if err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}
	return nil
}

// MarkLearned flips the learned flag
func (s *SQLiteCorrectionStore) MarkLearned(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE corrections SET learned = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark correction learned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("correction %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListByIntent returns the newest corrections for an intent
func (s *SQLiteCorrectionStore) ListByIntent(ctx context.Context, intent models.IntentType, limit int) ([]*models.MistakeCorrection, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, user_id, command_text, intent, incorrect_response, correction, learned
		FROM corrections WHERE intent = ? ORDER BY timestamp DESC LIMIT ?`,
		string(intent), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var out []*models.MistakeCorrection
	for rows.Next() {
		var (
			c          models.MistakeCorrection
			userID     sql.NullString
			incorrect  sql.NullString
			correction sql.NullString
			in         string
		)
		if err := rows.Scan(&c.ID, &c.Timestamp, &userID, &c.CommandText, &in, &incorrect, &correction, &c.Learned); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.Intent = models.IntentType(in)
		c.UserID = userID.String
		c.IncorrectResponse = incorrect.String
		c.Correction = correction.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Stats counts corrections overall and per intent
func (s *SQLiteCorrectionStore) Stats(ctx context.Context) (*CorrectionStats, error) {
	stats := &CorrectionStats{ByIntent: make(map[models.IntentType]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COUNT(*), SUM(CASE WHEN learned THEN 1 ELSE 0 END)
		FROM corrections GROUP BY intent`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			intent         string
			total, learned int
		)
		if err := rows.Scan(&intent, &total, &learned); err != nil {
			return nil, err
		}
		stats.ByIntent[models.IntentType(intent)] = total
		stats.Total += total
		stats.Learned += learned
	}
	return stats, rows.Err()
}

// Close closes the database
func (s *SQLiteCorrectionStore) Close() error {
	return s.db.Close()
}
