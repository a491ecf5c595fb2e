package handlers

import (
	"context"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/pagination"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockAskService struct {
	mock.Mock
}

func (m *MockAskService) Ask(ctx context.Context, sessionID, queryText string, opts service.AskOptions) (*domain.Answer, error) {
	args := m.Called(ctx, sessionID, queryText, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Answer), args.Error(1)
}

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) OpenSession() *service.SessionInfo {
	args := m.Called()
	return args.Get(0).(*service.SessionInfo)
}

func (m *MockSessionService) EndSession(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockSessionService) History(ctx context.Context, id string) (*service.SessionInfo, []domain.Turn, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*service.SessionInfo), args.Get(1).([]domain.Turn), args.Error(2)
}

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) IngestDocument(ctx context.Context, doc service.DocumentInput) (*service.IngestResult, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

type MockChunkReader struct {
	mock.Mock
}

func (m *MockChunkReader) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chunk), args.Error(1)
}

func (m *MockChunkReader) List(ctx context.Context, after *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}
