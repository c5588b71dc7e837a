package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRepositoryError_Error(t *testing.T) {
	t.Run("with inner error", func(t *testing.T) {
		err := &RepositoryError{Op: "get poll by link", Err: errors.New("db error")}
		assert.Equal(t, "get poll by link: db error", err.Error())
	})
	t.Run("without inner error", func(t *testing.T) {
		err := &RepositoryError{Op: "get poll by link"}
		assert.Equal(t, "get poll by link", err.Error())
	})
	t.Run("unwraps", func(t *testing.T) {
		err := fmt.Errorf("vote: %w", &RepositoryError{Op: "mutate", Err: ErrConflict})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("options", "must be unique")
	assert.Equal(t, "invalid options: must be unique", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrNotFound)

	var ve *ValidationError
	wrapped := fmt.Errorf("create poll: %w", err)
	if assert.ErrorAs(t, wrapped, &ve) {
		assert.Equal(t, "options", ve.Field)
	}
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"NotFound", ErrNotFound, "poll not found"},
		{"InvalidInput", ErrInvalidInput, "invalid input"},
		{"Expired", ErrExpired, "poll has expired"},
		{"InvalidOption", ErrInvalidOption, "invalid option index"},
		{"InvalidReactionType", ErrInvalidReactionType, "invalid reaction type"},
		{"EmptyComment", ErrEmptyComment, "comment text is required"},
		{"DuplicateLink", ErrDuplicateLink, "unique link already in use"},
		{"LinkGenerationExhausted", ErrLinkGenerationExhausted, "could not allocate a unique link"},
		{"StorageFailure", ErrStorageFailure, "storage failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Error message not equal:\nexpected: %q\nactual  : %q", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, IsDomainError(ErrNotFound))
	assert.True(t, IsDomainError(fmt.Errorf("wrapped: %w", ErrExpired)))
	assert.True(t, IsDomainError(NewValidationError("question", "is required")))
	assert.False(t, IsDomainError(errors.New("connection refused")))
	assert.False(t, IsDomainError(ErrConflict))
	assert.False(t, IsDomainError(ErrDuplicateLink))
}

func TestPollClone(t *testing.T) {
	poll := &Poll{
		ID:       uuid.New(),
		Options:  []Option{{Text: "A"}, {Text: "B"}},
		Comments: []Comment{{Text: "first", CreatedAt: time.Now()}},
	}

	cp := poll.Clone()
	cp.Options[0].Votes = 5
	cp.Comments = append(cp.Comments, Comment{Text: "second"})

	assert.Equal(t, 0, poll.Options[0].Votes)
	assert.Len(t, poll.Comments, 1)
	assert.Nil(t, (*Poll)(nil).Clone())
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, PollTypeYesNo.Valid())
	assert.True(t, PollTypeMultipleChoice.Valid())
	assert.False(t, PollType("ranked").Valid())

	assert.True(t, ReactionLike.Valid())
	assert.True(t, ReactionTrending.Valid())
	assert.False(t, ReactionType("love").Valid())
}
