package postgres

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var columns = []string{
	"id", "unique_link", "question", "poll_type", "options", "total_votes",
	"created_at", "expires_at", "hide_results", "is_private", "likes", "trending", "comments", "version",
}

func newTestRepository(t *testing.T, maxAttempts int) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres"), zap.NewNop(), maxAttempts), mock
}

func pollRows(id uuid.UUID, link string, votes int, version int64) *sqlmock.Rows {
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columns).AddRow(
		id.String(), link, "Tabs or spaces?", "multiple-choice",
		[]byte(`[{"text":"Tabs","votes":0},{"text":"Spaces","votes":`+strconv.Itoa(votes)+`}]`), votes,
		created, created.Add(time.Hour), false, false, 1, 0,
		[]byte(`[{"text":"spaces obviously","createdAt":"2026-03-14T15:01:00Z"}]`), version,
	)
}

func TestRepository_Create(t *testing.T) {
	tests := []struct {
		name     string
		dbErr    error
		expected error
	}{
		{"success", nil, nil},
		{"duplicate link", &pq.Error{Code: "23505"}, domain.ErrDuplicateLink},
		{"other failure", errors.New("connection reset"), errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newTestRepository(t, 0)
			now := time.Now().UTC()
			poll := &domain.Poll{
				ID:         uuid.New(),
				UniqueLink: "abcdefghij",
				Question:   "Tabs or spaces?",
				PollType:   domain.PollTypeMultipleChoice,
				Options:    []domain.Option{{Text: "Tabs"}, {Text: "Spaces"}},
				CreatedAt:  now,
				ExpiresAt:  now.Add(time.Hour),
			}

			exp := mock.ExpectExec("INSERT INTO polls").
				WithArgs(poll.ID, poll.UniqueLink, poll.Question, "multiple-choice", sqlmock.AnyArg(), 0,
					poll.CreatedAt, poll.ExpiresAt, false, false, 0, 0, []byte(`[]`))
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := repo.Create(context.Background(), poll)
			switch {
			case tt.expected == nil:
				assert.NoError(t, err)
			case errors.Is(tt.expected, domain.ErrDuplicateLink):
				assert.ErrorIs(t, err, domain.ErrDuplicateLink)
			default:
				var repoErr *domain.RepositoryError
				require.ErrorAs(t, err, &repoErr)
				assert.Equal(t, "create poll", repoErr.Op)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_GetByLink(t *testing.T) {
	repo, mock := newTestRepository(t, 0)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM polls WHERE unique_link = \\$1").
		WithArgs("abcdefghij").
		WillReturnRows(pollRows(id, "abcdefghij", 2, 3))

	poll, err := repo.GetByLink(context.Background(), "abcdefghij")
	require.NoError(t, err)
	assert.Equal(t, id, poll.ID)
	assert.Equal(t, domain.PollTypeMultipleChoice, poll.PollType)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, "Spaces", poll.Options[1].Text)
	assert.Equal(t, 2, poll.Options[1].Votes)
	assert.Equal(t, 1, poll.Reactions.Likes)
	require.Len(t, poll.Comments, 1)
	assert.Equal(t, "spaces obviously", poll.Comments[0].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t, 0)

	mock.ExpectQuery("SELECT (.+) FROM polls WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Mutate_RetriesOnVersionRace(t *testing.T) {
	repo, mock := newTestRepository(t, 0)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM polls WHERE id = \\$1").
		WillReturnRows(pollRows(id, "abcdefghij", 0, 1))
	mock.ExpectExec("UPDATE polls").
		WithArgs(sqlmock.AnyArg(), 1, 1, 0, sqlmock.AnyArg(), id, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM polls WHERE id = \\$1").
		WillReturnRows(pollRows(id, "abcdefghij", 1, 2))
	mock.ExpectExec("UPDATE polls").
		WithArgs(sqlmock.AnyArg(), 2, 1, 0, sqlmock.AnyArg(), id, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	calls := 0
	poll, err := repo.Mutate(context.Background(), id, func(p *domain.Poll) error {
		calls++
		p.Options[1].Votes++
		p.TotalVotes++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "transform re-applied to the fresh record")
	assert.Equal(t, 2, poll.Options[1].Votes)
	assert.Equal(t, 2, poll.TotalVotes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Mutate_ConflictAfterMaxAttempts(t *testing.T) {
	repo, mock := newTestRepository(t, 3)
	id := uuid.New()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT (.+) FROM polls WHERE id = \\$1").
			WillReturnRows(pollRows(id, "abcdefghij", 0, int64(i+1)))
		mock.ExpectExec("UPDATE polls").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, err := repo.Mutate(context.Background(), id, func(p *domain.Poll) error {
		p.Reactions.Trending++
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Mutate_TransformErrorSkipsUpdate(t *testing.T) {
	repo, mock := newTestRepository(t, 0)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM polls WHERE id = \\$1").
		WillReturnRows(pollRows(id, "abcdefghij", 0, 1))

	_, err := repo.Mutate(context.Background(), id, func(p *domain.Poll) error {
		return domain.ErrExpired
	})
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListRecentPublic(t *testing.T) {
	repo, mock := newTestRepository(t, 0)
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	rows := pollRows(first, "firstlink0", 0, 1)
	created := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	rows.AddRow(second.String(), "secondlink", "Coffee?", "yes-no",
		[]byte(`[{"text":"Yes","votes":0},{"text":"No","votes":0}]`), 0,
		created, created.Add(12*time.Hour), true, false, 0, 0, []byte(`[]`), int64(1))

	mock.ExpectQuery("SELECT (.+) FROM polls WHERE is_private = FALSE AND expires_at >= \\$1 ORDER BY created_at DESC LIMIT \\$2").
		WithArgs(now, 10).
		WillReturnRows(rows)

	polls, err := repo.ListRecentPublic(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, first, polls[0].ID)
	assert.Equal(t, domain.PollTypeYesNo, polls[1].PollType)
	assert.NotNil(t, polls[1].Comments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteExpired(t *testing.T) {
	repo, mock := newTestRepository(t, 0)
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM polls WHERE expires_at < \\$1").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteExpired_Failure(t *testing.T) {
	repo, mock := newTestRepository(t, 0)

	mock.ExpectExec("DELETE FROM polls").
		WillReturnError(errors.New("database is down"))

	_, err := repo.DeleteExpired(context.Background(), time.Now())
	var repoErr *domain.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "delete expired polls", repoErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
