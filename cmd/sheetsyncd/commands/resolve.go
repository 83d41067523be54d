package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fincontrol/sheetsync/internal/printer"
)

type ResolveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID  string
	fields  []string
	noFlush bool
}

// NewResolveCommand returns the resolve command.
func NewResolveCommand(rootCmd *RootCommand, app *kingpin.Application) *ResolveCommand {
	c := &ResolveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("resolve", "Resolve a conflicted task with the given content and push it to the sheet.")
	c.Cmd.Arg("task-id", "ID of the conflicted task.").Required().StringVar(&c.taskID)
	c.Cmd.Arg("field", "Resolved task fields as name=value pairs.").Required().StringsVar(&c.fields)
	c.Cmd.Flag("no-flush", "Only record the resolution locally, let the daemon push it.").BoolVar(&c.noFlush)

	return c
}

func (c ResolveCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResolveCommand) Run(ctx context.Context) error {
	fields, err := parseFields(c.fields)
	if err != nil {
		return err
	}

	st, err := newStack(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create sync stack: %w", err)
	}
	defer st.Close()

	if err := st.Engine.Resolve(ctx, c.taskID, fields); err != nil {
		return fmt.Errorf("could not resolve task: %w", err)
	}

	if !c.noFlush {
		if _, err := st.Engine.FlushOnce(ctx); err != nil {
			return fmt.Errorf("could not flush pending writes: %w", err)
		}
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	return p.PrintMessage(fmt.Sprintf("Task %s resolved", c.taskID))
}
