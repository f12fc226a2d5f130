package mocks

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"projectapi/internal/model"
	"projectapi/internal/service"
)

type MockItemService struct {
	mock.Mock
}

func (m *MockItemService) List(ctx context.Context, p service.ItemListParams) (*service.ItemListResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ItemListResult), args.Error(1)
}

func (m *MockItemService) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Create(ctx context.Context, actor service.Actor, in service.ItemInput) (*model.Item, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Replace(ctx context.Context, actor service.Actor, id uuid.UUID, in service.ItemInput) (*model.Item, error) {
	args := m.Called(ctx, actor, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Patch(ctx context.Context, actor service.Actor, id uuid.UUID, in service.ItemPatch) (*model.Item, error) {
	args := m.Called(ctx, actor, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Delete(ctx context.Context, actor service.Actor, id uuid.UUID) error {
	args := m.Called(ctx, actor, id)
	return args.Error(0)
}

func (m *MockItemService) UploadImage(ctx context.Context, actor service.Actor, id uuid.UUID, r io.Reader, filename, contentType string, size int64) (*model.Item, error) {
	args := m.Called(ctx, actor, id, r, filename, contentType, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) ImageURL(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}
