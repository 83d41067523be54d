package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/fincontrol/sheetsync/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID           string    `json:"id"`
	SyncState    string    `json:"sync_state"`
	Version      int64     `json:"version"`
	Deleted      bool      `json:"deleted,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// taskOutput represents the full task output.
type taskOutput struct {
	ID           string            `json:"id"`
	SyncState    string            `json:"sync_state"`
	Version      int64             `json:"version"`
	RowIndex     int               `json:"row_index"`
	Fields       []taskFieldOutput `json:"fields"`
	ContentHash  string            `json:"content_hash"`
	Deleted      bool              `json:"deleted"`
	LastModified time.Time         `json:"last_modified"`
}

type taskFieldOutput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:           t.ID,
			SyncState:    string(t.SyncState),
			Version:      t.Version,
			Deleted:      t.Deleted,
			LastModified: t.LastModified.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintTask prints a full task in JSON format.
func (j *JSONPrinter) PrintTask(task model.Task) error {
	fields := make([]taskFieldOutput, len(task.Fields))
	for i, f := range task.Fields {
		fields[i] = taskFieldOutput{Name: f.Name, Value: f.Value}
	}

	output := taskOutput{
		ID:           task.ID,
		SyncState:    string(task.SyncState),
		Version:      task.Version,
		RowIndex:     task.RowIndex,
		Fields:       fields,
		ContentHash:  task.ContentHash,
		Deleted:      task.Deleted,
		LastModified: task.LastModified.UTC(),
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
