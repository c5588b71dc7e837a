// Package gormstore keeps polls in a relational database through gorm. It
// backs the sqlite and mysql storage drivers.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type pollModel struct {
	ID          string                              `gorm:"primaryKey;size:36"`
	UniqueLink  string                              `gorm:"size:32;not null;uniqueIndex:idx_polls_unique_link"`
	Question    string                              `gorm:"type:text;not null"`
	PollType    string                              `gorm:"size:32;not null"`
	Options     datatypes.JSONSlice[domain.Option]  `gorm:"not null"`
	TotalVotes  int                                 `gorm:"not null;default:0"`
	CreatedAt   time.Time                           `gorm:"not null;index:idx_polls_public_recent,priority:3"`
	ExpiresAt   time.Time                           `gorm:"not null;index;index:idx_polls_public_recent,priority:2"`
	HideResults bool                                `gorm:"not null;default:false"`
	IsPrivate   bool                                `gorm:"not null;default:false;index:idx_polls_public_recent,priority:1"`
	Likes       int                                 `gorm:"not null;default:0"`
	Trending    int                                 `gorm:"not null;default:0"`
	Comments    datatypes.JSONSlice[domain.Comment] `gorm:"not null"`
	Version     int64                               `gorm:"not null;default:1"`
}

func (pollModel) TableName() string {
	return "polls"
}

func toModel(poll *domain.Poll) *pollModel {
	comments := poll.Comments
	if comments == nil {
		comments = []domain.Comment{}
	}
	return &pollModel{
		ID:          poll.ID.String(),
		UniqueLink:  poll.UniqueLink,
		Question:    poll.Question,
		PollType:    string(poll.PollType),
		Options:     datatypes.JSONSlice[domain.Option](poll.Options),
		TotalVotes:  poll.TotalVotes,
		CreatedAt:   poll.CreatedAt.UTC(),
		ExpiresAt:   poll.ExpiresAt.UTC(),
		HideResults: poll.HideResults,
		IsPrivate:   poll.IsPrivate,
		Likes:       poll.Reactions.Likes,
		Trending:    poll.Reactions.Trending,
		Comments:    datatypes.JSONSlice[domain.Comment](comments),
		Version:     1,
	}
}

func (m *pollModel) toDomain() (*domain.Poll, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse poll id: %w", err)
	}
	comments := []domain.Comment(m.Comments)
	if comments == nil {
		comments = []domain.Comment{}
	}
	for i := range comments {
		comments[i].CreatedAt = comments[i].CreatedAt.UTC()
	}
	return &domain.Poll{
		ID:          id,
		UniqueLink:  m.UniqueLink,
		Question:    m.Question,
		PollType:    domain.PollType(m.PollType),
		Options:     []domain.Option(m.Options),
		TotalVotes:  m.TotalVotes,
		CreatedAt:   m.CreatedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
		HideResults: m.HideResults,
		IsPrivate:   m.IsPrivate,
		Reactions:   domain.Reactions{Likes: m.Likes, Trending: m.Trending},
		Comments:    comments,
	}, nil
}

// Open connects to the configured database. The sqlite driver takes a file
// path (or "file::memory:?cache=shared"), mysql a full DSN.
func Open(driver, dsn string, zapLogger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	gormLogger := logger.New(
		zap.NewStdLog(zapLogger),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

type Store struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxAttempts int
}

func NewStore(db *gorm.DB, logger *zap.Logger, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxMutateAttempts
	}
	return &Store{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&pollModel{})
}

func (s *Store) Create(ctx context.Context, poll *domain.Poll) error {
	model := toModel(poll)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateLink
		}
		return &domain.RepositoryError{Op: "create poll", Err: err}
	}
	return nil
}

func (s *Store) first(ctx context.Context, query string, arg interface{}) (*pollModel, error) {
	var model pollModel
	err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.RepositoryError{Op: "get poll", Err: err}
	}
	return &model, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	model, err := s.first(ctx, "id = ?", id.String())
	if err != nil {
		return nil, err
	}
	return model.toDomain()
}

func (s *Store) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	model, err := s.first(ctx, "unique_link = ?", link)
	if err != nil {
		return nil, err
	}
	return model.toDomain()
}

// Mutate applies fn under optimistic concurrency: the update only lands if
// the version read is still current, otherwise the record is re-read.
func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn domain.MutateFunc) (*domain.Poll, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.first(ctx, "id = ?", id.String())
		if err != nil {
			return nil, err
		}
		poll, err := current.toDomain()
		if err != nil {
			return nil, err
		}

		if err := fn(poll); err != nil {
			return nil, err
		}

		next := toModel(poll)

		res := s.db.WithContext(ctx).
			Model(&pollModel{}).
			Where("id = ? AND version = ?", current.ID, current.Version).
			Updates(map[string]interface{}{
				"options":     next.Options,
				"total_votes": next.TotalVotes,
				"likes":       next.Likes,
				"trending":    next.Trending,
				"comments":    next.Comments,
				"version":     gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return nil, &domain.RepositoryError{Op: "update poll", Err: res.Error}
		}
		if res.RowsAffected == 1 {
			return poll, nil
		}

		s.logger.Debug("Poll update lost a version race, retrying",
			zap.String("poll_id", id.String()),
			zap.Int("attempt", attempt),
		)
	}

	return nil, &domain.RepositoryError{Op: "mutate poll", Err: domain.ErrConflict}
}

func (s *Store) ListRecentPublic(ctx context.Context, now time.Time, limit int) ([]domain.Poll, error) {
	var models []pollModel
	err := s.db.WithContext(ctx).
		Where("is_private = ? AND expires_at >= ?", false, now.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, &domain.RepositoryError{Op: "list recent polls", Err: err}
	}

	polls := make([]domain.Poll, 0, len(models))
	for i := range models {
		poll, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		polls = append(polls, *poll)
	}
	return polls, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&pollModel{})
	if res.Error != nil {
		return 0, &domain.RepositoryError{Op: "delete expired polls", Err: res.Error}
	}
	return res.RowsAffected, nil
}
