// Package storagemock provides a testify mock of the storage.Repository
// interface.
package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/storage"
)

// MockRepository is a mock implementation of storage.Repository.
type MockRepository struct {
	mock.Mock
}

var _ storage.Repository = &MockRepository{}

// Get mocks storage.Repository.Get.
func (m *MockRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*model.Task)
	return t, args.Error(1)
}

// List mocks storage.Repository.List.
func (m *MockRepository) List(ctx context.Context) ([]model.Task, error) {
	args := m.Called(ctx)
	ts, _ := args.Get(0).([]model.Task)
	return ts, args.Error(1)
}

// Put mocks storage.Repository.Put.
func (m *MockRepository) Put(ctx context.Context, task model.Task, expectedVersion int64) error {
	args := m.Called(ctx, task, expectedVersion)
	return args.Error(0)
}

// Delete mocks storage.Repository.Delete.
func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
