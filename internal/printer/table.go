package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fincontrol/sheetsync/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "ID\tSTATE\tVERSION\tROW\tAMOUNT\tMODIFIED")

	// Print rows
	for _, task := range tasks {
		amount, _ := task.Fields.Get("amount")
		state := string(task.SyncState)
		if task.Deleted {
			state += " (tombstone)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			task.ID, state, task.Version, task.RowIndex, amount, TimeAgo(task.LastModified))
	}

	return nil
}

// PrintTask prints detailed task status.
func (t *TablePrinter) PrintTask(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:        %s\n", task.ID)
	fmt.Fprintf(t.writer, "State:     %s\n", task.SyncState)
	fmt.Fprintf(t.writer, "Version:   %d\n", task.Version)
	fmt.Fprintf(t.writer, "Row:       %d\n", task.RowIndex)
	fmt.Fprintf(t.writer, "Deleted:   %t\n", task.Deleted)
	fmt.Fprintf(t.writer, "Hash:      %s\n", task.ContentHash)
	fmt.Fprintf(t.writer, "Modified:  %s\n", FormatTimestamp(task.LastModified))

	for _, f := range task.Fields {
		fmt.Fprintf(t.writer, "  %s: %s\n", f.Name, f.Value)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
