package service

import (
	"context"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePoll(ctx context.Context, req *domain.CreatePollRequest) (*domain.CreatePollResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreatePollResult), args.Error(1)
}

func (m *MockService) GetPoll(ctx context.Context, link string, viewerHasVoted bool) (*domain.PollView, error) {
	args := m.Called(ctx, link, viewerHasVoted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PollView), args.Error(1)
}

func (m *MockService) ListRecentPublic(ctx context.Context, limit int) ([]domain.PollSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PollSummary), args.Error(1)
}

func (m *MockService) Vote(ctx context.Context, id uuid.UUID, optionIndex int) (*domain.PollView, error) {
	args := m.Called(ctx, id, optionIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PollView), args.Error(1)
}

func (m *MockService) React(ctx context.Context, id uuid.UUID, reaction domain.ReactionType) (*domain.Reactions, error) {
	args := m.Called(ctx, id, reaction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reactions), args.Error(1)
}

func (m *MockService) Comment(ctx context.Context, id uuid.UUID, text string) ([]domain.Comment, error) {
	args := m.Called(ctx, id, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Comment), args.Error(1)
}

func (m *MockService) Sweep(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
