// Package mongostore keeps polls as documents in a MongoDB collection.
// Mutations use a version field for optimistic concurrency, the same way the
// SQL backends do.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const DefaultCollection = "polls"

type optionDocument struct {
	Text  string `bson:"text"`
	Votes int    `bson:"votes"`
}

type commentDocument struct {
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"created_at"`
}

type pollDocument struct {
	ID          string            `bson:"_id"`
	UniqueLink  string            `bson:"unique_link"`
	Question    string            `bson:"question"`
	PollType    string            `bson:"poll_type"`
	Options     []optionDocument  `bson:"options"`
	TotalVotes  int               `bson:"total_votes"`
	CreatedAt   time.Time         `bson:"created_at"`
	ExpiresAt   time.Time         `bson:"expires_at"`
	HideResults bool              `bson:"hide_results"`
	IsPrivate   bool              `bson:"is_private"`
	Likes       int               `bson:"likes"`
	Trending    int               `bson:"trending"`
	Comments    []commentDocument `bson:"comments"`
	Version     int64             `bson:"version"`
}

func toDocument(poll *domain.Poll) *pollDocument {
	doc := &pollDocument{
		ID:          poll.ID.String(),
		UniqueLink:  poll.UniqueLink,
		Question:    poll.Question,
		PollType:    string(poll.PollType),
		Options:     make([]optionDocument, len(poll.Options)),
		TotalVotes:  poll.TotalVotes,
		CreatedAt:   poll.CreatedAt.UTC(),
		ExpiresAt:   poll.ExpiresAt.UTC(),
		HideResults: poll.HideResults,
		IsPrivate:   poll.IsPrivate,
		Likes:       poll.Reactions.Likes,
		Trending:    poll.Reactions.Trending,
		Comments:    make([]commentDocument, len(poll.Comments)),
		Version:     1,
	}
	for i, opt := range poll.Options {
		doc.Options[i] = optionDocument{Text: opt.Text, Votes: opt.Votes}
	}
	for i, c := range poll.Comments {
		doc.Comments[i] = commentDocument{Text: c.Text, CreatedAt: c.CreatedAt.UTC()}
	}
	return doc
}

func (d *pollDocument) toDomain() (*domain.Poll, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse poll id: %w", err)
	}
	poll := &domain.Poll{
		ID:          id,
		UniqueLink:  d.UniqueLink,
		Question:    d.Question,
		PollType:    domain.PollType(d.PollType),
		Options:     make([]domain.Option, len(d.Options)),
		TotalVotes:  d.TotalVotes,
		CreatedAt:   d.CreatedAt.UTC(),
		ExpiresAt:   d.ExpiresAt.UTC(),
		HideResults: d.HideResults,
		IsPrivate:   d.IsPrivate,
		Reactions:   domain.Reactions{Likes: d.Likes, Trending: d.Trending},
		Comments:    make([]domain.Comment, len(d.Comments)),
	}
	for i, opt := range d.Options {
		poll.Options[i] = domain.Option{Text: opt.Text, Votes: opt.Votes}
	}
	for i, c := range d.Comments {
		poll.Comments[i] = domain.Comment{Text: c.Text, CreatedAt: c.CreatedAt.UTC()}
	}
	return poll, nil
}

// Connect dials uri and waits for the primary to answer.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type Store struct {
	coll        *mongo.Collection
	logger      *zap.Logger
	maxAttempts int
}

func NewStore(coll *mongo.Collection, logger *zap.Logger, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxMutateAttempts
	}
	return &Store{
		coll:        coll,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// EnsureIndexes creates the link and listing indexes. With ttl set, MongoDB
// also purges expired polls on its own, which only ever removes documents
// that reads already treat as gone.
func (s *Store) EnsureIndexes(ctx context.Context, ttl bool) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "unique_link", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_polls_unique_link"),
		},
		{
			Keys: bson.D{
				{Key: "is_private", Value: 1},
				{Key: "expires_at", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_polls_public_recent"),
		},
	}
	if ttl {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_polls_expires_at_ttl"),
		})
	}

	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return &domain.RepositoryError{Op: "create poll indexes", Err: err}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, poll *domain.Poll) error {
	if _, err := s.coll.InsertOne(ctx, toDocument(poll)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateLink
		}
		return &domain.RepositoryError{Op: "create poll", Err: err}
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (*pollDocument, error) {
	var doc pollDocument
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.RepositoryError{Op: "get poll", Err: err}
	}
	return &doc, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	doc, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return nil, err
	}
	return doc.toDomain()
}

func (s *Store) GetByLink(ctx context.Context, link string) (*domain.Poll, error) {
	doc, err := s.findOne(ctx, bson.D{{Key: "unique_link", Value: link}})
	if err != nil {
		return nil, err
	}
	return doc.toDomain()
}

func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn domain.MutateFunc) (*domain.Poll, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
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

		next := toDocument(poll)
		res, err := s.coll.UpdateOne(ctx,
			bson.D{
				{Key: "_id", Value: current.ID},
				{Key: "version", Value: current.Version},
			},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "options", Value: next.Options},
					{Key: "total_votes", Value: next.TotalVotes},
					{Key: "likes", Value: next.Likes},
					{Key: "trending", Value: next.Trending},
					{Key: "comments", Value: next.Comments},
				}},
				{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
			},
		)
		if err != nil {
			return nil, &domain.RepositoryError{Op: "update poll", Err: err}
		}
		if res.MatchedCount == 1 {
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
	cursor, err := s.coll.Find(ctx,
		bson.D{
			{Key: "is_private", Value: false},
			{Key: "expires_at", Value: bson.D{{Key: "$gte", Value: now.UTC()}}},
		},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, &domain.RepositoryError{Op: "list recent polls", Err: err}
	}

	var docs []pollDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &domain.RepositoryError{Op: "list recent polls", Err: err}
	}

	polls := make([]domain.Poll, 0, len(docs))
	for i := range docs {
		poll, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		polls = append(polls, *poll)
	}
	return polls, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now.UTC()}}},
	})
	if err != nil {
		return 0, &domain.RepositoryError{Op: "delete expired polls", Err: err}
	}
	return res.DeletedCount, nil
}
