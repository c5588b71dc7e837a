package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/events"
	"github.com/behzadon/flashpoll/internal/metrics"
	"github.com/behzadon/flashpoll/internal/policy"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type Service interface {
	CreatePoll(ctx context.Context, req *domain.CreatePollRequest) (*domain.CreatePollResult, error)
	GetPoll(ctx context.Context, link string, viewerHasVoted bool) (*domain.PollView, error)
	ListRecentPublic(ctx context.Context, limit int) ([]domain.PollSummary, error)

	Vote(ctx context.Context, id uuid.UUID, optionIndex int) (*domain.PollView, error)
	React(ctx context.Context, id uuid.UUID, reaction domain.ReactionType) (*domain.Reactions, error)
	Comment(ctx context.Context, id uuid.UUID, text string) ([]domain.Comment, error)

	Sweep(ctx context.Context) (int64, error)
}

type Options struct {
	MaxLinkAttempts int
	RecentLimit     int
	// SweepOnList runs an opportunistic sweep before every recent listing.
	SweepOnList bool
	// NewLink overrides the link generator; tests use it to force collisions.
	NewLink func() (string, error)
}

func (o Options) withDefaults() Options {
	if o.MaxLinkAttempts <= 0 {
		o.MaxLinkAttempts = domain.MaxLinkAttempts
	}
	if o.RecentLimit <= 0 || o.RecentLimit > domain.MaxRecentLimit {
		o.RecentLimit = domain.DefaultRecentLimit
	}
	if o.NewLink == nil {
		o.NewLink = func() (string, error) {
			return gonanoid.New(domain.LinkLength)
		}
	}
	return o
}

type service struct {
	repo      domain.Repository
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
	opts      Options
}

func NewService(repo domain.Repository, publisher events.Publisher, clk clock.Clock, logger *zap.Logger, opts Options) Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &service{
		repo:      repo,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// fail passes domain errors through and hides everything else behind
// ErrStorageFailure after logging the cause.
func (s *service) fail(op string, err error, fields ...zap.Field) error {
	if domain.IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("poll storage operation failed",
		append(fields, zap.String("op", op), zap.Error(err))...,
	)
	return domain.ErrStorageFailure
}

// stamp is the time written onto new records: UTC, rounded up to whole
// milliseconds so every backend stores exactly the value returned to callers
// and it never precedes the call.
func (s *service) stamp() time.Time {
	now := s.clock.Now().UTC()
	if t := now.Truncate(time.Millisecond); !t.Equal(now) {
		return t.Add(time.Millisecond)
	}
	return now
}

func normalizeOptions(req *domain.CreatePollRequest) ([]string, error) {
	if req.PollType == domain.PollTypeYesNo {
		return append([]string(nil), domain.YesNoOptions...), nil
	}

	if len(req.Options) < domain.MinOptions || len(req.Options) > domain.MaxOptions {
		return nil, domain.NewValidationError("options", "must have between 2 and 10 entries")
	}

	// uniqueness is case-sensitive: "Red" and "red" are distinct options
	seen := make(map[string]struct{}, len(req.Options))
	options := make([]string, 0, len(req.Options))
	for _, raw := range req.Options {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, domain.NewValidationError("options", "must not be empty")
		}
		if _, dup := seen[text]; dup {
			return nil, domain.NewValidationError("options", "must be unique")
		}
		seen[text] = struct{}{}
		options = append(options, text)
	}
	return options, nil
}

func (s *service) CreatePoll(ctx context.Context, req *domain.CreatePollRequest) (*domain.CreatePollResult, error) {
	if req == nil {
		return nil, domain.NewValidationError("request", "required")
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.NewValidationError("question", "required")
	}
	if !req.PollType.Valid() {
		return nil, domain.NewValidationError("pollType", "must be multiple-choice or yes-no")
	}

	texts, err := normalizeOptions(req)
	if err != nil {
		return nil, err
	}

	now := s.stamp()
	poll := &domain.Poll{
		ID:          uuid.New(),
		Question:    question,
		PollType:    req.PollType,
		Options:     make([]domain.Option, len(texts)),
		CreatedAt:   now,
		ExpiresAt:   policy.ComputeExpiry(now, req.ExpiresIn),
		HideResults: req.HideResults,
		IsPrivate:   req.IsPrivate,
		Comments:    []domain.Comment{},
	}
	for i, text := range texts {
		poll.Options[i] = domain.Option{Text: text}
	}

	for attempt := 1; attempt <= s.opts.MaxLinkAttempts; attempt++ {
		link, err := s.opts.NewLink()
		if err != nil {
			return nil, s.fail("generate link", err)
		}
		poll.UniqueLink = link

		err = s.repo.Create(ctx, poll)
		if errors.Is(err, domain.ErrDuplicateLink) {
			s.logger.Debug("Generated link already in use, retrying",
				zap.String("link", link),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, s.fail("create poll", err, zap.String("poll_id", poll.ID.String()))
		}

		if err := s.publisher.PublishPollCreated(ctx, poll); err != nil {
			s.logger.Error("failed to publish poll created event",
				zap.Error(err),
				zap.String("poll_id", poll.ID.String()),
			)
		}

		return &domain.CreatePollResult{
			ID:         poll.ID,
			UniqueLink: poll.UniqueLink,
			ExpiresAt:  poll.ExpiresAt,
		}, nil
	}

	s.logger.Warn("Exhausted link generation attempts",
		zap.Int("attempts", s.opts.MaxLinkAttempts),
	)
	return nil, domain.ErrLinkGenerationExhausted
}

func (s *service) GetPoll(ctx context.Context, link string, viewerHasVoted bool) (*domain.PollView, error) {
	poll, err := s.repo.GetByLink(ctx, link)
	if err != nil {
		return nil, s.fail("get poll", err, zap.String("link", link))
	}

	now := s.clock.Now()
	// an expired poll is gone whether or not the sweeper has run
	if policy.IsExpired(poll, now) {
		return nil, domain.ErrNotFound
	}
	return policy.Project(poll, now, viewerHasVoted), nil
}

func (s *service) Vote(ctx context.Context, id uuid.UUID, optionIndex int) (*domain.PollView, error) {
	poll, err := s.repo.Mutate(ctx, id, func(p *domain.Poll) error {
		if policy.IsExpired(p, s.clock.Now()) {
			return domain.ErrExpired
		}
		if optionIndex < 0 || optionIndex >= len(p.Options) {
			return domain.ErrInvalidOption
		}
		p.Options[optionIndex].Votes++
		p.TotalVotes++
		return nil
	})
	if err != nil {
		return nil, s.fail("vote", err, zap.String("poll_id", id.String()))
	}

	now := s.clock.Now()
	event := &domain.VoteEvent{
		PollID:      poll.ID,
		OptionIndex: optionIndex,
		TotalVotes:  poll.TotalVotes,
		CreatedAt:   now,
	}
	if err := s.publisher.PublishPollVoted(ctx, event); err != nil {
		s.logger.Error("failed to publish poll voted event",
			zap.Error(err),
			zap.String("poll_id", id.String()),
		)
	}

	return policy.Project(poll, now, true), nil
}

func (s *service) React(ctx context.Context, id uuid.UUID, reaction domain.ReactionType) (*domain.Reactions, error) {
	if !reaction.Valid() {
		return nil, domain.ErrInvalidReactionType
	}

	poll, err := s.repo.Mutate(ctx, id, func(p *domain.Poll) error {
		if policy.IsExpired(p, s.clock.Now()) {
			return domain.ErrExpired
		}
		switch reaction {
		case domain.ReactionLike:
			p.Reactions.Likes++
		case domain.ReactionTrending:
			p.Reactions.Trending++
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("react", err, zap.String("poll_id", id.String()))
	}

	event := &domain.ReactionEvent{
		PollID:    poll.ID,
		Reaction:  reaction,
		Reactions: poll.Reactions,
		CreatedAt: s.clock.Now(),
	}
	if err := s.publisher.PublishPollReacted(ctx, event); err != nil {
		s.logger.Error("failed to publish poll reacted event",
			zap.Error(err),
			zap.String("poll_id", id.String()),
		)
	}

	reactions := poll.Reactions
	return &reactions, nil
}

func (s *service) Comment(ctx context.Context, id uuid.UUID, text string) ([]domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyComment
	}

	poll, err := s.repo.Mutate(ctx, id, func(p *domain.Poll) error {
		if policy.IsExpired(p, s.clock.Now()) {
			return domain.ErrExpired
		}
		p.Comments = append(p.Comments, domain.Comment{Text: text, CreatedAt: s.stamp()})
		return nil
	})
	if err != nil {
		return nil, s.fail("comment", err, zap.String("poll_id", id.String()))
	}

	event := &domain.CommentEvent{
		PollID:       poll.ID,
		CommentCount: len(poll.Comments),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.publisher.PublishPollCommented(ctx, event); err != nil {
		s.logger.Error("failed to publish poll commented event",
			zap.Error(err),
			zap.String("poll_id", id.String()),
		)
	}

	return poll.Comments, nil
}

func (s *service) ListRecentPublic(ctx context.Context, limit int) ([]domain.PollSummary, error) {
	switch {
	case limit <= 0:
		limit = s.opts.RecentLimit
	case limit > domain.MaxRecentLimit:
		limit = domain.MaxRecentLimit
	}

	if s.opts.SweepOnList {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("Opportunistic sweep failed", zap.Error(err))
		}
	}

	polls, err := s.repo.ListRecentPublic(ctx, s.clock.Now(), limit)
	if err != nil {
		return nil, s.fail("list recent polls", err)
	}

	summaries := make([]domain.PollSummary, 0, len(polls))
	for i := range polls {
		summaries = append(summaries, policy.Summarize(&polls[i]))
	}
	return summaries, nil
}

func (s *service) Sweep(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	deleted, err := s.repo.DeleteExpired(ctx, now)
	metrics.RecordSweep(deleted, err)
	if err != nil {
		return 0, s.fail("sweep", err)
	}

	if deleted > 0 {
		s.logger.Info("Swept expired polls", zap.Int64("deleted", deleted))
		event := &domain.SweepEvent{Deleted: deleted, CreatedAt: now}
		if err := s.publisher.PublishPollsSwept(ctx, event); err != nil {
			s.logger.Error("failed to publish polls swept event", zap.Error(err))
		}
	}
	return deleted, nil
}
