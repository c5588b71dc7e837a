package domain

import (
	"time"

	"github.com/google/uuid"
)

type PollType string

const (
	PollTypeMultipleChoice PollType = "multiple-choice"
	PollTypeYesNo          PollType = "yes-no"
)

func (t PollType) Valid() bool {
	return t == PollTypeMultipleChoice || t == PollTypeYesNo
}

type ReactionType string

const (
	ReactionLike     ReactionType = "like"
	ReactionTrending ReactionType = "trending"
)

func (r ReactionType) Valid() bool {
	return r == ReactionLike || r == ReactionTrending
}

// Poll is the stored record. Only Options[].Votes, TotalVotes, Reactions and
// Comments change after creation, and only through Repository.Mutate.
type Poll struct {
	ID          uuid.UUID `json:"id"`
	UniqueLink  string    `json:"uniqueLink"`
	Question    string    `json:"question"`
	PollType    PollType  `json:"pollType"`
	Options     []Option  `json:"options"`
	TotalVotes  int       `json:"totalVotes"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	HideResults bool      `json:"hideResults"`
	IsPrivate   bool      `json:"isPrivate"`
	Reactions   Reactions `json:"reactions"`
	Comments    []Comment `json:"comments"`
}

type Option struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

type Reactions struct {
	Likes    int `json:"likes"`
	Trending int `json:"trending"`
}

type Comment struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = append([]Option(nil), p.Options...)
	cp.Comments = append([]Comment(nil), p.Comments...)
	return &cp
}

// PollView is the visibility-filtered projection returned to callers.
type PollView struct {
	ID             uuid.UUID    `json:"id"`
	UniqueLink     string       `json:"uniqueLink"`
	Question       string       `json:"question"`
	PollType       PollType     `json:"pollType"`
	Options        []OptionView `json:"options"`
	TotalVotes     int          `json:"totalVotes"`
	CreatedAt      time.Time    `json:"createdAt"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	HideResults    bool         `json:"hideResults"`
	IsPrivate      bool         `json:"isPrivate"`
	Reactions      Reactions    `json:"reactions"`
	Comments       []Comment    `json:"comments"`
	IsActive       bool         `json:"isActive"`
	ResultsVisible bool         `json:"resultsVisible"`
}

// OptionView carries Votes only when results are visible to the viewer.
type OptionView struct {
	Text  string `json:"text"`
	Votes *int   `json:"votes,omitempty"`
}

type PollSummary struct {
	ID         uuid.UUID `json:"id"`
	UniqueLink string    `json:"uniqueLink"`
	Question   string    `json:"question"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TotalVotes int       `json:"totalVotes"`
	Reactions  Reactions `json:"reactions"`
}

type CreatePollRequest struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	PollType    PollType `json:"pollType"`
	ExpiresIn   string   `json:"expiresIn"`
	HideResults bool     `json:"hideResults"`
	IsPrivate   bool     `json:"isPrivate"`
}

type CreatePollResult struct {
	ID         uuid.UUID `json:"id"`
	UniqueLink string    `json:"uniqueLink"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type VoteEvent struct {
	PollID      uuid.UUID `json:"pollId"`
	OptionIndex int       `json:"optionIndex"`
	TotalVotes  int       `json:"totalVotes"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ReactionEvent struct {
	PollID    uuid.UUID    `json:"pollId"`
	Reaction  ReactionType `json:"reaction"`
	Reactions Reactions    `json:"reactions"`
	CreatedAt time.Time    `json:"createdAt"`
}

type CommentEvent struct {
	PollID       uuid.UUID `json:"pollId"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SweepEvent struct {
	Deleted   int64     `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	LinkLength         = 10
	MinOptions         = 2
	MaxOptions         = 10
	MaxLinkAttempts    = 3
	MaxMutateAttempts  = 5
	DefaultRecentLimit = 10
	MaxRecentLimit     = 50
)

var YesNoOptions = []string{"Yes", "No"}
