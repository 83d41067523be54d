package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/storage/sqlite/migrations"
)

// Open opens the SQLite database and runs the migrations. The returned handle
// is shared by the task repository and the pending write queue.
func Open(ctx context.Context, dbPath string, logger log.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = log.Noop
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	return db, nil
}

// RepositoryConfig is the configuration for the SQLite task repository.
type RepositoryConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{db: cfg.DB, logger: cfg.Logger}, nil
}

const taskColumns = `id, row_index, fields, version, sync_state, content_hash, deleted, last_modified`

// Get retrieves a task by ID.
func (r *Repository) Get(ctx context.Context, id string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	return task, nil
}

// List returns all tasks ordered by last modified, newest first.
func (r *Repository) List(ctx context.Context) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY last_modified DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

// Put writes the task with compare-and-swap on the stored version.
func (r *Repository) Put(ctx context.Context, task model.Task, expectedVersion int64) error {
	fields, err := encodeFields(task.Fields)
	if err != nil {
		return err
	}

	if expectedVersion < 0 {
		query := `
			INSERT INTO tasks (` + taskColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.db.ExecContext(ctx, query,
			task.ID, task.RowIndex, fields, task.Version, task.SyncState,
			task.ContentHash, task.Deleted, task.LastModified.UTC().UnixNano())
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
				return fmt.Errorf("task %s: %w", task.ID, model.ErrAlreadyExists)
			}
			return fmt.Errorf("could not insert task: %w", err)
		}

		r.logger.Debugf("Created task in repository: %s", task.ID)
		return nil
	}

	query := `
		UPDATE tasks SET
			row_index = ?, fields = ?, version = ?, sync_state = ?,
			content_hash = ?, deleted = ?, last_modified = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		task.RowIndex, fields, task.Version, task.SyncState, task.ContentHash,
		task.Deleted, task.LastModified.UTC().UnixNano(),
		task.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing task from a lost update.
		var stored int64
		err := r.db.QueryRowContext(ctx, `SELECT version FROM tasks WHERE id = ?`, task.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", task.ID, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("could not query stored version: %w", err)
		}
		return fmt.Errorf("task %s expected version %d, stored %d: %w",
			task.ID, expectedVersion, stored, model.ErrVersionMismatch)
	}

	r.logger.Debugf("Updated task in repository: %s", task.ID)
	return nil
}

// Delete physically removes the task.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted task from repository: %s", id)
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var fields string
	var lastModified int64

	err := row.Scan(&t.ID, &t.RowIndex, &fields, &t.Version, &t.SyncState,
		&t.ContentHash, &t.Deleted, &lastModified)
	if err != nil {
		return nil, err
	}

	t.Fields, err = decodeFields(fields)
	if err != nil {
		return nil, err
	}
	t.LastModified = time.Unix(0, lastModified).UTC()

	return &t, nil
}

// jsonField is the stored representation of a single field. Fields keep
// their sheet column order, so they are stored as an ordered array rather
// than a JSON object.
type jsonField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func encodeFields(fields model.Fields) (string, error) {
	jf := make([]jsonField, 0, len(fields))
	for _, f := range fields {
		jf = append(jf, jsonField{Name: f.Name, Value: f.Value})
	}
	data, err := json.Marshal(jf)
	if err != nil {
		return "", fmt.Errorf("could not encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(data string) (model.Fields, error) {
	var jf []jsonField
	if err := json.Unmarshal([]byte(data), &jf); err != nil {
		return nil, fmt.Errorf("could not decode fields: %w", err)
	}
	fields := make(model.Fields, 0, len(jf))
	for _, f := range jf {
		fields = append(fields, model.Field{Name: f.Name, Value: f.Value})
	}
	return fields, nil
}
