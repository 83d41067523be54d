package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/printer"
)

type AddCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	fields  []string
	noFlush bool
	format  string
}

// NewAddCommand returns the add command.
func NewAddCommand(rootCmd *RootCommand, app *kingpin.Application) *AddCommand {
	c := &AddCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("add", "Add a new task and push it to the sheet.")
	c.Cmd.Arg("field", "Task fields as name=value pairs (e.g. amount=42.50).").Required().StringsVar(&c.fields)
	c.Cmd.Flag("no-flush", "Only record the write locally, let the daemon push it.").BoolVar(&c.noFlush)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c AddCommand) Name() string { return c.Cmd.FullCommand() }

func (c AddCommand) Run(ctx context.Context) error {
	fields, err := parseFields(c.fields)
	if err != nil {
		return err
	}

	st, err := newStack(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create sync stack: %w", err)
	}
	defer st.Close()

	task, err := st.Engine.Create(ctx, fields)
	if err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}

	if !c.noFlush {
		if _, err := st.Engine.FlushOnce(ctx); err != nil {
			return fmt.Errorf("could not flush pending writes: %w", err)
		}
		// Reflect the flushed state in the output.
		task, err = st.Engine.Read(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("could not read back task: %w", err)
		}
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	return p.PrintTask(*task)
}

// parseFields converts name=value CLI arguments into ordered task fields.
func parseFields(args []string) (model.Fields, error) {
	fields := make(model.Fields, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, expected name=value", arg)
		}
		fields = append(fields, model.Field{Name: name, Value: value})
	}
	return fields, nil
}
