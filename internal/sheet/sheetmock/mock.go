// Package sheetmock provides a testify mock of the sheet.Gateway interface.
package sheetmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/sheet"
)

// MockGateway is a mock implementation of sheet.Gateway.
type MockGateway struct {
	mock.Mock
}

var _ sheet.Gateway = &MockGateway{}

// FetchRows mocks sheet.Gateway.FetchRows.
func (m *MockGateway) FetchRows(ctx context.Context, offset, limit int) ([]sheet.Row, error) {
	args := m.Called(ctx, offset, limit)
	rows, _ := args.Get(0).([]sheet.Row)
	return rows, args.Error(1)
}

// FetchRow mocks sheet.Gateway.FetchRow.
func (m *MockGateway) FetchRow(ctx context.Context, rowIndex int) (*sheet.Row, error) {
	args := m.Called(ctx, rowIndex)
	row, _ := args.Get(0).(*sheet.Row)
	return row, args.Error(1)
}

// AppendRow mocks sheet.Gateway.AppendRow.
func (m *MockGateway) AppendRow(ctx context.Context, fields model.Fields) (int, error) {
	args := m.Called(ctx, fields)
	return args.Int(0), args.Error(1)
}

// UpdateRow mocks sheet.Gateway.UpdateRow.
func (m *MockGateway) UpdateRow(ctx context.Context, rowIndex int, fields model.Fields) error {
	args := m.Called(ctx, rowIndex, fields)
	return args.Error(0)
}

// DeleteRow mocks sheet.Gateway.DeleteRow.
func (m *MockGateway) DeleteRow(ctx context.Context, rowIndex int) error {
	args := m.Called(ctx, rowIndex)
	return args.Error(0)
}
