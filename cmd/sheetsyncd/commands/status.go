package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/printer"
	queuesqlite "github.com/fincontrol/sheetsync/internal/queue/sqlite"
	storagesqlite "github.com/fincontrol/sheetsync/internal/storage/sqlite"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the sync status of a task.")
	c.Cmd.Arg("task-id", "ID of the task.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	settings, err := c.rootCmd.LoadSettings()
	if err != nil {
		return err
	}

	db, err := storagesqlite.Open(ctx, settings.DBPath, logger)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()

	repo, err := storagesqlite.NewRepository(storagesqlite.RepositoryConfig{DB: db, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	pending, err := queuesqlite.NewQueue(queuesqlite.QueueConfig{DB: db, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create pending write queue: %w", err)
	}

	task, err := repo.Get(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintTask(*task); err != nil {
		return err
	}

	// Show the queued mutation when the write has not reached the sheet yet.
	m, err := pending.Get(ctx, c.taskID)
	switch {
	case err == nil:
		msg := fmt.Sprintf("pending %s write: %d attempts, next attempt %s", m.Op, m.Attempts, printer.FormatTimestamp(m.NextAttempt))
		if err := p.PrintMessage(msg); err != nil {
			return err
		}
	case errors.Is(err, model.ErrNotFound):
		// Nothing queued.
	default:
		return fmt.Errorf("could not get pending write: %w", err)
	}

	return nil
}
