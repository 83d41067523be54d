package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/printer"
	storagesqlite "github.com/fincontrol/sheetsync/internal/storage/sqlite"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	all         bool
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List tasks in the durable store.")
	c.Cmd.Flag("state", "Filter by sync state (synced, pending_write, conflict, failed_sync).").StringVar(&c.stateFilter)
	c.Cmd.Flag("all", "Include tombstoned (deleted, not yet flushed) tasks.").BoolVar(&c.all)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Parse state filter if provided.
	var stateFilter *model.SyncState
	if c.stateFilter != "" {
		state := model.SyncState(strings.ToLower(c.stateFilter))
		switch state {
		case model.SyncStateSynced, model.SyncStatePendingWrite, model.SyncStateConflict, model.SyncStateFailedSync:
			stateFilter = &state
		default:
			return fmt.Errorf("invalid state filter: %s (must be: synced, pending_write, conflict, failed_sync)", c.stateFilter)
		}
	}

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

	tasks, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	filtered := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Deleted && !c.all {
			continue
		}
		if stateFilter != nil && t.SyncState != *stateFilter {
			continue
		}
		filtered = append(filtered, t)
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	return p.PrintList(filtered)
}
