// Package fake provides an in-memory sheet.Gateway for tests and for running
// the daemon without real spreadsheet access.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/sheet"
)

// GatewayConfig is the configuration for the fake gateway.
type GatewayConfig struct {
	MaxRows int
	Logger  log.Logger
}

func (c *GatewayConfig) defaults() error {
	if c.MaxRows <= 0 {
		c.MaxRows = 300
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sheet.Fake"})
	return nil
}

// Gateway is a fake in-memory implementation of the sheet.Gateway interface.
// It simulates the remote worksheet without network access and can be
// scripted to fail a number of calls with transient errors.
type Gateway struct {
	rows    []model.Fields
	failing int
	calls   int
	maxRows int
	mu      sync.Mutex
	logger  log.Logger
}

var _ sheet.Gateway = &Gateway{}

// NewGateway creates a new fake gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Gateway{
		maxRows: cfg.MaxRows,
		logger:  cfg.Logger,
	}, nil
}

// FailNext makes the next n calls fail with a transient error.
func (g *Gateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = n
}

// Calls returns the number of gateway calls performed so far.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// SetRow overwrites a row directly, simulating an external edit that bypasses
// the engine.
func (g *Gateway) SetRow(rowIndex int, fields model.Fields) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.rows) <= rowIndex {
		g.rows = append(g.rows, nil)
	}
	g.rows[rowIndex] = fields.Clone()
}

func (g *Gateway) step() error {
	g.calls++
	if g.failing > 0 {
		g.failing--
		return sheet.NewTransientError(fmt.Errorf("scripted transient failure"))
	}
	return nil
}

// FetchRows returns up to limit rows starting at offset.
func (g *Gateway) FetchRows(ctx context.Context, offset, limit int) ([]sheet.Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.step(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > g.maxRows {
		limit = g.maxRows
	}

	rows := []sheet.Row{}
	for i := offset; i < len(g.rows) && i < offset+limit; i++ {
		if g.rows[i] == nil {
			continue
		}
		rows = append(rows, sheet.Row{Index: i, Fields: g.rows[i].Clone()})
	}
	return rows, nil
}

// FetchRow returns a single row by index.
func (g *Gateway) FetchRow(ctx context.Context, rowIndex int) (*sheet.Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.step(); err != nil {
		return nil, err
	}
	if rowIndex < 0 || rowIndex >= len(g.rows) || g.rows[rowIndex] == nil {
		return nil, fmt.Errorf("row %d: %w", rowIndex, model.ErrNotFound)
	}
	return &sheet.Row{Index: rowIndex, Fields: g.rows[rowIndex].Clone()}, nil
}

// AppendRow appends a row and returns its index.
func (g *Gateway) AppendRow(ctx context.Context, fields model.Fields) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.step(); err != nil {
		return 0, err
	}
	if len(g.rows) >= g.maxRows {
		return 0, sheet.NewPermanentError(fmt.Errorf("sheet full: %d rows", len(g.rows)))
	}
	g.rows = append(g.rows, fields.Clone())
	idx := len(g.rows) - 1
	g.logger.Debugf("Appended row at index %d", idx)
	return idx, nil
}

// UpdateRow rewrites the row at the given index.
func (g *Gateway) UpdateRow(ctx context.Context, rowIndex int, fields model.Fields) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.step(); err != nil {
		return err
	}
	if rowIndex < 0 || rowIndex >= len(g.rows) || g.rows[rowIndex] == nil {
		return sheet.NewPermanentError(fmt.Errorf("row %d does not exist", rowIndex))
	}
	g.rows[rowIndex] = fields.Clone()
	return nil
}

// DeleteRow removes the row at the given index, shifting later rows up.
func (g *Gateway) DeleteRow(ctx context.Context, rowIndex int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.step(); err != nil {
		return err
	}
	if rowIndex < 0 || rowIndex >= len(g.rows) {
		return sheet.NewPermanentError(fmt.Errorf("row %d does not exist", rowIndex))
	}
	g.rows = append(g.rows[:rowIndex], g.rows[rowIndex+1:]...)
	return nil
}
