// Package store holds the client-side mirror of the ideas and comments
// collections. It is the only shared mutable state in the engine: the
// mutation executor and the change ingest loop both converge on it, and each
// call runs to completion under the store mutex before any other call
// observes the result.
package store

import (
	"sort"
	"sync"

	"github.com/example/ideaboard/internal/types"
)

// ChangeType enumerates store-level transitions reported to observers.
type ChangeType string

const (
	ChangeUpserted ChangeType = "upserted"
	ChangeRemoved  ChangeType = "removed"
)

// Notification describes one store mutation. It names the entity, not its
// contents; observers read the store for current state.
type Notification struct {
	Collection types.Collection
	Type       ChangeType
	ID         string
}

// Listener receives store notifications. Listeners are invoked outside the
// store mutex and must not assume the notified state is still current.
type Listener func(Notification)

// Store mirrors the two entity collections keyed by id. Entities are supplied
// whole and replaced whole; the store never patches fields.
type Store struct {
	mu        sync.RWMutex
	ideas     map[types.IdeaID]types.Idea
	comments  map[types.CommentID]types.Comment
	byIdea    map[types.IdeaID]map[types.CommentID]struct{}
	listeners map[int]Listener
	nextToken int
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		ideas:     make(map[types.IdeaID]types.Idea),
		comments:  make(map[types.CommentID]types.Comment),
		byIdea:    make(map[types.IdeaID]map[types.CommentID]struct{}),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers an observer for store notifications and returns a
// function that unregisters it. The unregister func is safe to call on every
// exit path, including more than once.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.nextToken
	s.nextToken++
	s.listeners[token] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, token)
	}
}

// UpsertIdea inserts the idea if its id is absent, otherwise replaces the
// existing entity field for field. It always succeeds.
func (s *Store) UpsertIdea(idea types.Idea) {
	s.mu.Lock()
	if _, ok := s.byIdea[idea.ID]; !ok {
		s.byIdea[idea.ID] = make(map[types.CommentID]struct{})
	}
	s.ideas[idea.ID] = idea.Clone()
	ideasResident.Set(float64(len(s.ideas)))
	s.mu.Unlock()

	mutationsApplied.WithLabelValues(string(types.CollectionIdeas), string(ChangeUpserted)).Inc()
	s.emit(Notification{Collection: types.CollectionIdeas, Type: ChangeUpserted, ID: string(idea.ID)})
}

// RemoveIdea deletes the idea and every comment referencing it. Removing an
// absent id is a no-op, which makes a local delete racing a remote delete
// event indistinguishable from a single delete.
func (s *Store) RemoveIdea(id types.IdeaID) bool {
	s.mu.Lock()
	if _, ok := s.ideas[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.ideas, id)

	var cascaded []types.CommentID
	for commentID := range s.byIdea[id] {
		delete(s.comments, commentID)
		cascaded = append(cascaded, commentID)
	}
	delete(s.byIdea, id)

	ideasResident.Set(float64(len(s.ideas)))
	commentsResident.Set(float64(len(s.comments)))
	s.mu.Unlock()

	mutationsApplied.WithLabelValues(string(types.CollectionIdeas), string(ChangeRemoved)).Inc()
	for _, commentID := range cascaded {
		mutationsApplied.WithLabelValues(string(types.CollectionComments), string(ChangeRemoved)).Inc()
		s.emit(Notification{Collection: types.CollectionComments, Type: ChangeRemoved, ID: string(commentID)})
	}
	s.emit(Notification{Collection: types.CollectionIdeas, Type: ChangeRemoved, ID: string(id)})
	return true
}

// UpsertComment inserts or replaces the comment whole.
func (s *Store) UpsertComment(comment types.Comment) {
	s.mu.Lock()
	if prev, ok := s.comments[comment.ID]; ok && prev.IdeaID != comment.IdeaID {
		delete(s.byIdea[prev.IdeaID], prev.ID)
	}
	s.comments[comment.ID] = comment.Clone()
	index, ok := s.byIdea[comment.IdeaID]
	if !ok {
		index = make(map[types.CommentID]struct{})
		s.byIdea[comment.IdeaID] = index
	}
	index[comment.ID] = struct{}{}
	commentsResident.Set(float64(len(s.comments)))
	s.mu.Unlock()

	mutationsApplied.WithLabelValues(string(types.CollectionComments), string(ChangeUpserted)).Inc()
	s.emit(Notification{Collection: types.CollectionComments, Type: ChangeUpserted, ID: string(comment.ID)})
}

// RemoveComment deletes the comment if present; absent ids are a no-op.
func (s *Store) RemoveComment(id types.CommentID) bool {
	s.mu.Lock()
	comment, ok := s.comments[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.comments, id)
	if index, ok := s.byIdea[comment.IdeaID]; ok {
		delete(index, id)
	}
	commentsResident.Set(float64(len(s.comments)))
	s.mu.Unlock()

	mutationsApplied.WithLabelValues(string(types.CollectionComments), string(ChangeRemoved)).Inc()
	s.emit(Notification{Collection: types.CollectionComments, Type: ChangeRemoved, ID: string(id)})
	return true
}

// GetIdea returns a copy of the idea and whether it was present.
func (s *Store) GetIdea(id types.IdeaID) (types.Idea, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idea, ok := s.ideas[id]
	if !ok {
		return types.Idea{}, false
	}
	return idea.Clone(), true
}

// GetComment returns a copy of the comment and whether it was present.
func (s *Store) GetComment(id types.CommentID) (types.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comment, ok := s.comments[id]
	if !ok {
		return types.Comment{}, false
	}
	return comment.Clone(), true
}

// ListIdeas returns copies of all ideas ordered by creation time, newest
// first. An optional filter narrows the result.
func (s *Store) ListIdeas(filter func(types.Idea) bool) []types.Idea {
	s.mu.RLock()
	ideas := make([]types.Idea, 0, len(s.ideas))
	for _, idea := range s.ideas {
		if filter != nil && !filter(idea) {
			continue
		}
		ideas = append(ideas, idea.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(ideas, func(i, j int) bool {
		if !ideas[i].CreatedAt.Equal(ideas[j].CreatedAt) {
			return ideas[i].CreatedAt.After(ideas[j].CreatedAt)
		}
		return ideas[i].ID < ideas[j].ID
	})
	return ideas
}

// ListComments returns copies of the comments under an idea ordered by
// creation time, oldest first.
func (s *Store) ListComments(ideaID types.IdeaID) []types.Comment {
	s.mu.RLock()
	index := s.byIdea[ideaID]
	comments := make([]types.Comment, 0, len(index))
	for commentID := range index {
		if comment, ok := s.comments[commentID]; ok {
			comments = append(comments, comment.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
	return comments
}

// Counts returns the resident entity counts.
func (s *Store) Counts() (ideas, comments int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ideas), len(s.comments)
}

func (s *Store) emit(n Notification) {
	for _, listener := range s.listenersSnapshot() {
		listener(n)
	}
}

func (s *Store) listenersSnapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}
