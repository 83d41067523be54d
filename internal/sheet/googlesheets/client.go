// Package googlesheets implements the sheet.Gateway interface using the
// Google Sheets API.
package googlesheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/sheet"
)

// Sheets API scope.
const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// fieldNames is the column layout of the task worksheet, in sheet order. The
// id column holds the stable task id; the rest is task content.
var fieldNames = []string{sheet.IDFieldName, "date", "category", "amount", "description"}

// GatewayConfig is the configuration for the Google Sheets gateway.
type GatewayConfig struct {
	// CredentialsJSON is the service account key used to authorize calls.
	CredentialsJSON []byte
	// HTTPClient overrides the OAuth client, used by tests.
	HTTPClient *http.Client
	// SpreadsheetID is the document to operate on.
	SpreadsheetID string
	// WorksheetName is the worksheet (tab) holding task rows.
	WorksheetName string
	// MaxRows bounds every fetch.
	MaxRows int
	// Limiter throttles all API calls in aggregate. It is shared with the
	// flush workers so retries and reconciliation draw from the same budget.
	Limiter *rate.Limiter
	Logger  log.Logger
}

func (c *GatewayConfig) defaults() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet id is required")
	}
	if c.WorksheetName == "" {
		return fmt.Errorf("worksheet name is required")
	}
	if c.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive")
	}
	if c.CredentialsJSON == nil && c.HTTPClient == nil {
		return fmt.Errorf("credentials or http client required")
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Limit(1), 1)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sheet.GoogleSheets"})
	return nil
}

// Gateway is a Google Sheets implementation of sheet.Gateway.
type Gateway struct {
	svc           *sheetsv4.Service
	spreadsheetID string
	worksheet     string
	maxRows       int
	limiter       *rate.Limiter
	logger        log.Logger
}

var _ sheet.Gateway = &Gateway{}

// NewGateway creates a new Google Sheets gateway.
func NewGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []option.ClientOption{}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, sheetsScope)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	svc, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create sheets service: %w", err)
	}

	return &Gateway{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     cfg.WorksheetName,
		maxRows:       cfg.MaxRows,
		limiter:       cfg.Limiter,
		logger:        cfg.Logger,
	}, nil
}

// FetchRows returns up to limit rows starting at offset.
func (g *Gateway) FetchRows(ctx context.Context, offset, limit int) ([]sheet.Row, error) {
	if limit <= 0 || limit > g.maxRows {
		limit = g.maxRows
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, sheet.NewTransientError(err)
	}

	rng := fmt.Sprintf("%s!A%d:Z%d", g.worksheet, offset+1, offset+limit)
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	rows := make([]sheet.Row, 0, len(resp.Values))
	for i, vals := range resp.Values {
		rows = append(rows, sheet.Row{Index: offset + i, Fields: toFields(vals)})
	}

	g.logger.Debugf("Fetched %d rows from %s", len(rows), rng)
	return rows, nil
}

// FetchRow returns a single row by index.
func (g *Gateway) FetchRow(ctx context.Context, rowIndex int) (*sheet.Row, error) {
	rows, err := g.FetchRows(ctx, rowIndex, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("row %d: %w", rowIndex, model.ErrNotFound)
	}
	return &rows[0], nil
}

// AppendRow appends a row and returns its assigned index.
func (g *Gateway) AppendRow(ctx context.Context, fields model.Fields) (int, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, sheet.NewTransientError(err)
	}

	vr := &sheetsv4.ValueRange{Values: [][]interface{}{toValues(fields)}}
	resp, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.worksheet+"!A:Z", vr).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return 0, classify(err)
	}

	rowIndex, err := rowIndexFromRange(resp.Updates.UpdatedRange)
	if err != nil {
		return 0, sheet.NewPermanentError(err)
	}

	g.logger.Debugf("Appended row at index %d", rowIndex)
	return rowIndex, nil
}

// UpdateRow rewrites the row at the given index.
func (g *Gateway) UpdateRow(ctx context.Context, rowIndex int, fields model.Fields) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return sheet.NewTransientError(err)
	}

	rng := fmt.Sprintf("%s!A%d:Z%d", g.worksheet, rowIndex+1, rowIndex+1)
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{toValues(fields)}}
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return classify(err)
	}

	g.logger.Debugf("Updated row %d", rowIndex)
	return nil
}

// DeleteRow removes the row at the given index.
func (g *Gateway) DeleteRow(ctx context.Context, rowIndex int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return sheet.NewTransientError(err)
	}

	sheetID, err := g.worksheetID(ctx)
	if err != nil {
		return err
	}

	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			DeleteDimension: &sheetsv4.DeleteDimensionRequest{
				Range: &sheetsv4.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex),
					EndIndex:   int64(rowIndex + 1),
				},
			},
		}},
	}
	_, err = g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}

	g.logger.Debugf("Deleted row %d", rowIndex)
	return nil
}

func (g *Gateway) worksheetID(ctx context.Context) (int64, error) {
	resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, classify(err)
	}
	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title == g.worksheet {
			return s.Properties.SheetId, nil
		}
	}
	return 0, sheet.NewPermanentError(fmt.Errorf("worksheet %q not found", g.worksheet))
}

// classify maps Google API errors onto the transient/permanent taxonomy.
// Quota exhaustion and server-side failures are retryable, the rest are not.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return sheet.NewTransientError(err)
		}
		return sheet.NewPermanentError(err)
	}
	// Network-level failures have no status code.
	return sheet.NewTransientError(err)
}

func toFields(vals []interface{}) model.Fields {
	fields := make(model.Fields, 0, len(fieldNames))
	for i, name := range fieldNames {
		v := ""
		if i < len(vals) {
			v = fmt.Sprintf("%v", vals[i])
		}
		fields = append(fields, model.Field{Name: name, Value: v})
	}
	return fields
}

func toValues(fields model.Fields) []interface{} {
	vals := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		vals = append(vals, f.Value)
	}
	return vals
}

// rowIndexFromRange extracts the zero-based row index from an A1 range like
// "tasks!A42:D42". Worksheet names may contain digits ("Sheet1"), so only
// the part after the sheet separator is parsed.
func rowIndexFromRange(a1 string) (int, error) {
	if i := strings.LastIndexByte(a1, '!'); i >= 0 {
		a1 = a1[i+1:]
	}

	row := 0
	seen := false
	for _, r := range a1 {
		if r >= '0' && r <= '9' {
			row = row*10 + int(r-'0')
			seen = true
			continue
		}
		if seen {
			break
		}
	}
	if !seen || row == 0 {
		return 0, fmt.Errorf("could not parse updated range %q", a1)
	}
	return row - 1, nil
}
