// Package sheet defines the gateway port to the remote spreadsheet, the
// authoritative row layout when reachable.
package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/fincontrol/sheetsync/internal/model"
)

// IDFieldName is the name of the row field carrying the task id. Row
// positions shift when rows are deleted, so every row embeds its stable task
// id as the first column.
const IDFieldName = "id"

// Row is a single spreadsheet row as seen by the engine.
type Row struct {
	// Index is the zero-based position of the row in the worksheet.
	Index  int
	Fields model.Fields
}

// TaskID returns the task id embedded in the row, if any.
func (r Row) TaskID() (string, bool) {
	id, ok := r.Fields.Get(IDFieldName)
	return id, ok && id != ""
}

// Content returns the row fields without the embedded task id.
func (r Row) Content() model.Fields {
	content := make(model.Fields, 0, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == IDFieldName {
			continue
		}
		content = append(content, f)
	}
	return content
}

// Hash returns the content hash of the row, id column excluded, comparable
// with a task's content hash.
func (r Row) Hash() string {
	return r.Content().Hash()
}

// WithRowID prepends the task id column to the task content fields, building
// the full row as written to the sheet.
func WithRowID(id string, fields model.Fields) model.Fields {
	row := make(model.Fields, 0, len(fields)+1)
	row = append(row, model.Field{Name: IDFieldName, Value: id})
	return append(row, fields...)
}

// Gateway is the rate-limited accessor to the remote spreadsheet. Every call
// may fail with a transient (quota/network) or a permanent error; use
// IsTransient to distinguish them.
type Gateway interface {
	// FetchRows returns up to limit ordered rows starting at offset. The
	// limit is clamped to the configured maximum row count.
	FetchRows(ctx context.Context, offset, limit int) ([]Row, error)
	// FetchRow returns a single row, or model.ErrNotFound when the index is
	// beyond the sheet's current extent.
	FetchRow(ctx context.Context, rowIndex int) (*Row, error)
	// AppendRow appends a new row and returns its assigned index.
	AppendRow(ctx context.Context, fields model.Fields) (int, error)
	// UpdateRow rewrites the row at the given index.
	UpdateRow(ctx context.Context, rowIndex int, fields model.Fields) error
	// DeleteRow removes the row at the given index; following rows shift up.
	DeleteRow(ctx context.Context, rowIndex int) error
}

// Error is a classified gateway failure. Transient failures (quota, network)
// are retried by the pending write queue; permanent ones are not.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s sheet error: %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransientError wraps an upstream failure that is worth retrying.
func NewTransientError(err error) error {
	return &Error{Transient: true, Err: err}
}

// NewPermanentError wraps an upstream failure that retrying cannot fix.
func NewPermanentError(err error) error {
	return &Error{Transient: false, Err: err}
}

// IsTransient reports whether the error is a retryable gateway failure.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient
}
