package activity

import (
	"context"
	"sync"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/events"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type Stats struct {
	PollsCreated int64
	Votes        int64
	Reactions    int64
	Comments     int64
	PollsSwept   int64
}

// Handler turns poll events into a human readable activity log and keeps
// running totals for the lifetime of the consumer.
type Handler struct {
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

var _ events.EventHandler = (*Handler)(nil)

func NewHandler(clk clock.Clock, logger *zap.Logger) *Handler {
	return &Handler{
		clock:  clk,
		logger: logger,
	}
}

func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) HandlePollCreated(_ context.Context, poll *domain.Poll) error {
	h.mu.Lock()
	h.stats.PollsCreated++
	h.mu.Unlock()

	visibility := "public"
	if poll.IsPrivate {
		visibility = "private"
	}
	h.logger.Info("Poll created",
		zap.String("poll_id", poll.ID.String()),
		zap.String("link", poll.UniqueLink),
		zap.String("visibility", visibility),
		zap.Int("options", len(poll.Options)),
		zap.String("expires", humanize.RelTime(poll.ExpiresAt, h.clock.Now(), "ago", "from now")),
	)
	return nil
}

func (h *Handler) HandlePollVoted(_ context.Context, event *domain.VoteEvent) error {
	h.mu.Lock()
	h.stats.Votes++
	h.mu.Unlock()

	h.logger.Info("Vote recorded",
		zap.String("poll_id", event.PollID.String()),
		zap.String("option", humanize.Ordinal(event.OptionIndex+1)),
		zap.String("total_votes", humanize.Comma(int64(event.TotalVotes))),
	)
	return nil
}

func (h *Handler) HandlePollReacted(_ context.Context, event *domain.ReactionEvent) error {
	h.mu.Lock()
	h.stats.Reactions++
	h.mu.Unlock()

	h.logger.Info("Reaction recorded",
		zap.String("poll_id", event.PollID.String()),
		zap.String("reaction", string(event.Reaction)),
		zap.String("likes", humanize.Comma(int64(event.Reactions.Likes))),
		zap.String("trending", humanize.Comma(int64(event.Reactions.Trending))),
	)
	return nil
}

func (h *Handler) HandlePollCommented(_ context.Context, event *domain.CommentEvent) error {
	h.mu.Lock()
	h.stats.Comments++
	h.mu.Unlock()

	h.logger.Info("Comment posted",
		zap.String("poll_id", event.PollID.String()),
		zap.String("comment", humanize.Ordinal(event.CommentCount)),
	)
	return nil
}

func (h *Handler) HandlePollsSwept(_ context.Context, event *domain.SweepEvent) error {
	h.mu.Lock()
	h.stats.PollsSwept += event.Deleted
	h.mu.Unlock()

	h.logger.Info("Expired polls swept",
		zap.String("deleted", humanize.Comma(event.Deleted)),
		zap.String("at", humanize.RelTime(event.CreatedAt, h.clock.Now(), "ago", "from now")),
	)
	return nil
}
