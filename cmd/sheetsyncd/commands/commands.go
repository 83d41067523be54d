package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/fincontrol/sheetsync/internal/config"
	"github.com/fincontrol/sheetsync/internal/log"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug           bool
	NoLog           bool
	NoColor         bool
	LoggerType      string
	SettingsPath    string
	DBPath          string
	SpreadsheetID   string
	CredentialsFile string
	FakeSheet       bool

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultSettingsPath := filepath.Join(homedir.HomeDir(), ".sheetsync", "config.yaml")
	app.Flag("settings", "Path to the YAML settings file.").Envar("SHEETSYNC_SETTINGS").Default(defaultSettingsPath).StringVar(&c.SettingsPath)

	defaultDBPath := filepath.Join(homedir.HomeDir(), ".sheetsync", "sheetsync.db")
	app.Flag("db-path", "Path to the SQLite database file.").Envar("SHEETSYNC_DB_PATH").Default(defaultDBPath).StringVar(&c.DBPath)

	app.Flag("spreadsheet-id", "Remote spreadsheet ID or document URL, overrides the settings file.").Envar("SHEETSYNC_SPREADSHEET_ID").StringVar(&c.SpreadsheetID)
	app.Flag("credentials", "Path to the Google service account credentials JSON file.").Envar("SHEETSYNC_CREDENTIALS").StringVar(&c.CredentialsFile)
	app.Flag("fake-sheet", "Use an in-memory fake sheet instead of Google Sheets (for local testing).").BoolVar(&c.FakeSheet)

	return c
}

// LoadSettings builds the engine settings from the settings file (when
// present) overlaid with the root command flags.
func (c *RootCommand) LoadSettings() (*config.Settings, error) {
	s := &config.Settings{}

	data, err := os.ReadFile(c.SettingsPath)
	switch {
	case err == nil:
		s, err = config.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("could not parse settings file %q: %w", c.SettingsPath, err)
		}
	case os.IsNotExist(err):
		// No settings file, flags only.
	default:
		return nil, fmt.Errorf("could not read settings file %q: %w", c.SettingsPath, err)
	}

	if c.SpreadsheetID != "" {
		s.SpreadsheetID = c.SpreadsheetID
	}
	if s.DBPath == "" {
		s.DBPath = c.DBPath
	}

	s.Defaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}
