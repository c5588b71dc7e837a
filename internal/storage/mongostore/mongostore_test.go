package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/storage/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"
)

func namespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + mt.Coll.Name()
}

func toBSON(t testing.TB, poll *domain.Poll, version int64) bson.D {
	t.Helper()
	doc := toDocument(poll)
	doc.Version = version

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestStore_Mocked(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, store.Create(ctx, storetest.NewPoll("link000001", storetest.Base, time.Hour, false)))
	})

	mt.Run("create duplicate link", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: flashpoll.polls index: idx_polls_unique_link",
		}))

		err := store.Create(ctx, storetest.NewPoll("link000001", storetest.Base, time.Hour, false))
		assert.ErrorIs(mt, err, domain.ErrDuplicateLink)
	})

	mt.Run("create failure is wrapped", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
			Name:    "BadValue",
		}))

		err := store.Create(ctx, storetest.NewPoll("link000001", storetest.Base, time.Hour, false))
		var repoErr *domain.RepositoryError
		require.ErrorAs(mt, err, &repoErr)
		assert.Equal(mt, "create poll", repoErr.Op)
	})

	mt.Run("get by link", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		poll := storetest.NewPoll("link000002", storetest.Base, time.Hour, false)
		poll.Comments = []domain.Comment{{Text: "hi", CreatedAt: storetest.Base.Add(time.Minute)}}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, toBSON(mt, poll, 1)))

		got, err := store.GetByLink(ctx, "link000002")
		require.NoError(mt, err)
		assert.Equal(mt, poll.ID, got.ID)
		assert.Equal(mt, poll.Options, got.Options)
		assert.True(mt, poll.ExpiresAt.Equal(got.ExpiresAt))
		require.Len(mt, got.Comments, 1)
		assert.Equal(mt, "hi", got.Comments[0].Text)
	})

	mt.Run("get by id not found", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(mt, err, domain.ErrNotFound)
	})

	mt.Run("mutate retries a lost race", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		poll := storetest.NewPoll("link000003", storetest.Base, time.Hour, false)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, toBSON(mt, poll, 1)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, toBSON(mt, poll, 2)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		calls := 0
		got, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			calls++
			p.Options[1].Votes++
			p.TotalVotes++
			return nil
		})
		require.NoError(mt, err)
		assert.Equal(mt, 2, calls)
		assert.Equal(mt, 1, got.Options[1].Votes)
		assert.Equal(mt, 1, got.TotalVotes)
	})

	mt.Run("mutate gives up with conflict", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 2)
		poll := storetest.NewPoll("link000004", storetest.Base, time.Hour, false)
		for i := 0; i < 2; i++ {
			mt.AddMockResponses(
				mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, toBSON(mt, poll, 1)),
				mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			)
		}

		_, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Reactions.Likes++
			return nil
		})
		assert.ErrorIs(mt, err, domain.ErrConflict)
	})

	mt.Run("mutate transform error writes nothing", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		poll := storetest.NewPoll("link000005", storetest.Base, time.Hour, false)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, toBSON(mt, poll, 1)))

		_, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			return domain.ErrInvalidOption
		})
		assert.ErrorIs(mt, err, domain.ErrInvalidOption)
	})

	mt.Run("list recent public", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		newer := storetest.NewPoll("link000006", storetest.Base.Add(time.Minute), time.Hour, false)
		older := storetest.NewPoll("link000007", storetest.Base, time.Hour, false)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			toBSON(mt, newer, 1), toBSON(mt, older, 1)))

		polls, err := store.ListRecentPublic(ctx, storetest.Base, 10)
		require.NoError(mt, err)
		require.Len(mt, polls, 2)
		assert.Equal(mt, newer.ID, polls[0].ID)
		assert.Equal(mt, older.ID, polls[1].ID)
	})

	mt.Run("delete expired", func(mt *mtest.T) {
		store := NewStore(mt.Coll, zap.NewNop(), 3)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))

		deleted, err := store.DeleteExpired(ctx, storetest.Base)
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), deleted)
	})
}

func TestDocumentRoundTrip(t *testing.T) {
	poll := storetest.NewPoll("link000008", storetest.Base, 12*time.Hour, true)
	poll.HideResults = true
	poll.Options[0].Votes = 4
	poll.TotalVotes = 4
	poll.Reactions = domain.Reactions{Likes: 2, Trending: 1}

	got, err := toDocument(poll).toDomain()
	require.NoError(t, err)
	assert.Equal(t, poll, got)
}

// A live server is exercised only when FLASHPOLL_TEST_MONGO_URI is set.
func TestStore_Conformance(t *testing.T) {
	uri := os.Getenv("FLASHPOLL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FLASHPOLL_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) domain.Repository {
		db := client.Database("flashpoll_test_" + uuid.NewString()[:8])
		t.Cleanup(func() { _ = db.Drop(context.Background()) })

		store := NewStore(db.Collection(DefaultCollection), zap.NewNop(), 25)
		require.NoError(t, store.EnsureIndexes(ctx, false))
		return store
	}, storetest.Options{Concurrent: true, Concurrency: 20})
}
