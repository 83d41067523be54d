package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fincontrol/sheetsync/internal/printer"
)

type RemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID  string
	noFlush bool
}

// NewRemoveCommand returns the rm command.
func NewRemoveCommand(rootCmd *RootCommand, app *kingpin.Application) *RemoveCommand {
	c := &RemoveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rm", "Delete a task and remove its row from the sheet.")
	c.Cmd.Arg("task-id", "ID of the task to delete.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("no-flush", "Only record the delete locally, let the daemon push it.").BoolVar(&c.noFlush)

	return c
}

func (c RemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c RemoveCommand) Run(ctx context.Context) error {
	st, err := newStack(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create sync stack: %w", err)
	}
	defer st.Close()

	if err := st.Engine.Delete(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not delete task: %w", err)
	}

	if !c.noFlush {
		if _, err := st.Engine.FlushOnce(ctx); err != nil {
			return fmt.Errorf("could not flush pending writes: %w", err)
		}
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	return p.PrintMessage(fmt.Sprintf("Task %s deleted", c.taskID))
}
