package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/storage/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	// one private in-memory database per test
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	// every loser of a version race retries, so n writers need n attempts
	store := NewStore(db, zap.NewNop(), 25)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Repository {
		return setupTestStore(t)
	}, storetest.Options{Concurrent: true, Concurrency: 20})
}

func TestStore_MutateBumpsVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	poll := storetest.NewPoll("versionlnk", storetest.Base, time.Hour, false)
	require.NoError(t, store.Create(ctx, poll))

	for i := 0; i < 3; i++ {
		_, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
			p.Reactions.Trending++
			return nil
		})
		require.NoError(t, err)
	}

	var model pollModel
	require.NoError(t, store.db.First(&model, "id = ?", poll.ID.String()).Error)
	assert.Equal(t, int64(4), model.Version)
	assert.Equal(t, 3, model.Trending)
}

func TestStore_StaleVersionIsRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	poll := storetest.NewPoll("stalelink0", storetest.Base, time.Hour, false)
	require.NoError(t, store.Create(ctx, poll))

	calls := 0
	updated, err := store.Mutate(ctx, poll.ID, func(p *domain.Poll) error {
		calls++
		if calls == 1 {
			// a competing writer commits between read and write
			res := store.db.Model(&pollModel{}).
				Where("id = ?", poll.ID.String()).
				Updates(map[string]interface{}{"likes": 5, "version": gorm.Expr("version + 1")})
			require.NoError(t, res.Error)
		}
		p.Reactions.Likes++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 6, updated.Reactions.Likes, "retry must build on the competing write")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever", zap.NewNop())
	assert.Error(t, err)
}
