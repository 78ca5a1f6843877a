package types

import (
	"slices"
	"time"
)

// ActorID identifies a signed-in user. It is supplied by the identity
// collaborator at session start and treated as opaque everywhere else.
type ActorID string

// IdeaID identifies an idea. Ids are globally unique and stable for the
// lifetime of the entity; they are the only correlation key between an
// optimistic write and the authoritative events echoing it back.
type IdeaID string

// CommentID identifies a comment.
type CommentID string

// Collection names one of the two replicated entity collections.
type Collection string

const (
	CollectionIdeas    Collection = "ideas"
	CollectionComments Collection = "comments"
)

// Idea is a proposal users can vote on and comment under. VoteCount always
// equals len(Voters) whenever no optimistic toggle is in flight.
type Idea struct {
	ID          IdeaID    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AuthorID    ActorID   `json:"author_id"`
	VoteCount   int       `json:"vote_count"`
	Voters      []ActorID `json:"voters"`
	CreatedAt   time.Time `json:"created_at"`
}

// Comment belongs to exactly one idea. A comment must never outlive the idea
// it references.
type Comment struct {
	ID        CommentID `json:"id"`
	IdeaID    IdeaID    `json:"idea_id"`
	Text      string    `json:"text"`
	AuthorID  ActorID   `json:"author_id"`
	LikeCount int       `json:"like_count"`
	LikedBy   []ActorID `json:"liked_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so the entity store never hands out a mutable
// alias to its resident instance.
func (i Idea) Clone() Idea {
	i.Voters = slices.Clone(i.Voters)
	return i
}

// Clone returns a deep copy of the comment.
func (c Comment) Clone() Comment {
	c.LikedBy = slices.Clone(c.LikedBy)
	return c
}

// Equal reports field-for-field equality, including voter membership.
func (i Idea) Equal(other Idea) bool {
	return i.ID == other.ID &&
		i.Title == other.Title &&
		i.Description == other.Description &&
		i.AuthorID == other.AuthorID &&
		i.VoteCount == other.VoteCount &&
		i.CreatedAt.Equal(other.CreatedAt) &&
		slices.Equal(i.Voters, other.Voters)
}

// Equal reports field-for-field equality, including like membership.
func (c Comment) Equal(other Comment) bool {
	return c.ID == other.ID &&
		c.IdeaID == other.IdeaID &&
		c.Text == other.Text &&
		c.AuthorID == other.AuthorID &&
		c.LikeCount == other.LikeCount &&
		c.CreatedAt.Equal(other.CreatedAt) &&
		slices.Equal(c.LikedBy, other.LikedBy)
}
