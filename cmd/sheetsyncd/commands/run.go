package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run the synchronization daemon (flush workers and reconciliation loop).")

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	st, err := newStack(ctx, c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create sync stack: %w", err)
	}
	defer st.Close()

	// Requeue writes left over from a previous run before serving.
	if err := st.Engine.ReplayPending(ctx); err != nil {
		return fmt.Errorf("could not replay pending writes: %w", err)
	}

	var g run.Group

	// Flush loop.
	{
		flushCtx, flushCancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return st.Engine.Run(flushCtx)
			},
			func(_ error) {
				flushCancel()
			},
		)
	}

	// Reconciliation loop.
	{
		reconcileCtx, reconcileCancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return st.Scheduler.Run(reconcileCtx)
			},
			func(_ error) {
				reconcileCancel()
			},
		)
	}

	logger.Infof("Daemon started (spreadsheet %s, worksheet %s)", st.Settings.SpreadsheetID, st.Settings.WorksheetName)

	return g.Run()
}
