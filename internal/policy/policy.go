// Package policy holds the pure rules every read, write and sweep path shares:
// when a poll expires and who may see its per-option breakdown.
package policy

import (
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
)

const DefaultDuration = 24 * time.Hour

var durations = map[string]time.Duration{
	"1hour":   time.Hour,
	"12hours": 12 * time.Hour,
	"24hours": 24 * time.Hour,
}

// ParseDuration maps an expiresIn selector to a TTL. Unknown selectors fall
// back to 24 hours.
func ParseDuration(selector string) time.Duration {
	if d, ok := durations[selector]; ok {
		return d
	}
	return DefaultDuration
}

func ComputeExpiry(createdAt time.Time, selector string) time.Time {
	return createdAt.Add(ParseDuration(selector))
}

// IsExpired is strict: a poll is still active at exactly ExpiresAt.
func IsExpired(poll *domain.Poll, now time.Time) bool {
	return now.After(poll.ExpiresAt)
}

func ResultsVisible(poll *domain.Poll, now time.Time, viewerHasVoted bool) bool {
	return !poll.HideResults || IsExpired(poll, now) || viewerHasVoted
}

// Project builds the caller-facing view. Hidden results drop the vote field
// entirely rather than zeroing it.
func Project(poll *domain.Poll, now time.Time, viewerHasVoted bool) *domain.PollView {
	visible := ResultsVisible(poll, now, viewerHasVoted)

	options := make([]domain.OptionView, len(poll.Options))
	for i, opt := range poll.Options {
		options[i] = domain.OptionView{Text: opt.Text}
		if visible {
			votes := opt.Votes
			options[i].Votes = &votes
		}
	}

	comments := append([]domain.Comment{}, poll.Comments...)

	return &domain.PollView{
		ID:             poll.ID,
		UniqueLink:     poll.UniqueLink,
		Question:       poll.Question,
		PollType:       poll.PollType,
		Options:        options,
		TotalVotes:     poll.TotalVotes,
		CreatedAt:      poll.CreatedAt,
		ExpiresAt:      poll.ExpiresAt,
		HideResults:    poll.HideResults,
		IsPrivate:      poll.IsPrivate,
		Reactions:      poll.Reactions,
		Comments:       comments,
		IsActive:       !IsExpired(poll, now),
		ResultsVisible: visible,
	}
}

func Summarize(poll *domain.Poll) domain.PollSummary {
	return domain.PollSummary{
		ID:         poll.ID,
		UniqueLink: poll.UniqueLink,
		Question:   poll.Question,
		CreatedAt:  poll.CreatedAt,
		ExpiresAt:  poll.ExpiresAt,
		TotalVotes: poll.TotalVotes,
		Reactions:  poll.Reactions,
	}
}
