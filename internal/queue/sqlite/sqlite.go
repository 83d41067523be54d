// Package sqlite provides the durable SQLite implementation of the pending
// write queue. It shares the database handle (and migration set) with the
// task repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/queue"
)

// QueueConfig is the configuration for the SQLite queue.
type QueueConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *QueueConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.SQLite"})
	return nil
}

// Queue is a SQLite implementation of queue.Queue.
type Queue struct {
	db     *sql.DB
	logger log.Logger
}

var _ queue.Queue = &Queue{}

// NewQueue creates a new SQLite queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{db: cfg.DB, logger: cfg.Logger}, nil
}

const mutationColumns = `task_id, op, fields, base_version, base_hash, attempts, next_attempt, created_at`

// Enqueue adds or supersedes the mutation for its task id.
func (q *Queue) Enqueue(ctx context.Context, m model.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	fields, err := encodeFields(m.Fields)
	if err != nil {
		return err
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pending_mutations (task_id, op, fields, base_version, base_hash, attempts, next_attempt, claimed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			op = excluded.op,
			fields = excluded.fields,
			base_version = excluded.base_version,
			base_hash = excluded.base_hash,
			attempts = 0,
			next_attempt = 0,
			claimed = 0,
			created_at = excluded.created_at
	`
	_, err = q.db.ExecContext(ctx, query,
		m.TaskID, m.Op, fields, m.BaseVersion, m.BaseHash, m.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("could not enqueue mutation: %w", err)
	}

	q.logger.Debugf("Enqueued %s mutation for task %s", m.Op, m.TaskID)
	return nil
}

// Claim atomically claims the next due unclaimed entry.
func (q *Queue) Claim(ctx context.Context, now time.Time) (*model.Mutation, error) {
	// Claiming is the only cross-request atomic coordination point: the
	// UPDATE ... WHERE claimed = 0 guard guarantees a single winner even
	// with concurrent workers.
	for {
		query := `
			SELECT ` + mutationColumns + `
			FROM pending_mutations
			WHERE claimed = 0 AND next_attempt <= ?
			ORDER BY created_at ASC
			LIMIT 1
		`
		m, err := scanMutation(q.db.QueryRowContext(ctx, query, now.UTC().UnixNano()))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("could not query due mutation: %w", err)
		}

		result, err := q.db.ExecContext(ctx,
			`UPDATE pending_mutations SET claimed = 1 WHERE task_id = ? AND claimed = 0`, m.TaskID)
		if err != nil {
			return nil, fmt.Errorf("could not claim mutation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("could not get rows affected: %w", err)
		}
		if rows == 0 {
			// Lost the race to another worker, pick the next candidate.
			continue
		}

		q.logger.Debugf("Claimed mutation for task %s (attempt %d)", m.TaskID, m.Attempts)
		return m, nil
	}
}

// Release returns a claimed entry to the retry rotation.
func (q *Queue) Release(ctx context.Context, taskID string, attempts int, nextAttempt time.Time) error {
	query := `
		UPDATE pending_mutations
		SET claimed = 0, attempts = ?, next_attempt = ?
		WHERE task_id = ?
	`
	result, err := q.db.ExecContext(ctx, query, attempts, nextAttempt.UTC().UnixNano(), taskID)
	if err != nil {
		return fmt.Errorf("could not release mutation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
	}

	return nil
}

// Complete removes the entry for the task id.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("could not complete mutation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
	}

	q.logger.Debugf("Completed mutation for task %s", taskID)
	return nil
}

// Get returns the entry for the task id.
func (q *Queue) Get(ctx context.Context, taskID string) (*model.Mutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM pending_mutations WHERE task_id = ?`

	m, err := scanMutation(q.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query mutation: %w", err)
	}

	return m, nil
}

// Entries returns all entries, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]model.Mutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM pending_mutations ORDER BY created_at ASC`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query mutations: %w", err)
	}
	defer rows.Close()

	var ms []model.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		ms = append(ms, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ms, nil
}

// ReleaseAll clears every claim.
func (q *Queue) ReleaseAll(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `UPDATE pending_mutations SET claimed = 0`)
	if err != nil {
		return fmt.Errorf("could not release claims: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMutation(row scannable) (*model.Mutation, error) {
	var m model.Mutation
	var fields string
	var nextAttempt, createdAt int64

	err := row.Scan(&m.TaskID, &m.Op, &fields, &m.BaseVersion, &m.BaseHash,
		&m.Attempts, &nextAttempt, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Fields, err = decodeFields(fields)
	if err != nil {
		return nil, err
	}
	if nextAttempt > 0 {
		m.NextAttempt = time.Unix(0, nextAttempt).UTC()
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()

	return &m, nil
}

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
