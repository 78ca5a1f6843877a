package ingest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/types"
)

type fakeSubscription struct {
	events    chan types.ChangeEvent
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{events: make(chan types.ChangeEvent, 16), closed: make(chan struct{})}
}

func (s *fakeSubscription) Events() <-chan types.ChangeEvent { return s.events }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeFeed struct {
	ideas    *fakeSubscription
	comments *fakeSubscription
}

func (f *fakeFeed) InsertIdea(context.Context, types.Idea) error         { return nil }
func (f *fakeFeed) UpdateIdea(context.Context, types.Idea) error         { return nil }
func (f *fakeFeed) DeleteIdea(context.Context, types.IdeaID) error       { return nil }
func (f *fakeFeed) QueryIdeas(context.Context) ([]types.Idea, error)     { return nil, nil }
func (f *fakeFeed) InsertComment(context.Context, types.Comment) error   { return nil }
func (f *fakeFeed) UpdateComment(context.Context, types.Comment) error   { return nil }
func (f *fakeFeed) DeleteComment(context.Context, types.CommentID) error { return nil }
func (f *fakeFeed) QueryComments(context.Context) ([]types.Comment, error) {
	return nil, nil
}
func (f *fakeFeed) SubscribeIdeas(context.Context) (backend.Subscription, error) {
	return f.ideas, nil
}
func (f *fakeFeed) SubscribeComments(context.Context) (backend.Subscription, error) {
	return f.comments, nil
}

func ideaEvent(kind types.EventKind, idea types.Idea) types.ChangeEvent {
	return types.ChangeEvent{Collection: types.CollectionIdeas, Kind: kind, Idea: &idea}
}

func commentEvent(kind types.EventKind, comment types.Comment) types.ChangeEvent {
	return types.ChangeEvent{Collection: types.CollectionComments, Kind: kind, Comment: &comment}
}

func testIdea(id string) types.Idea {
	return types.Idea{ID: types.IdeaID(id), Title: "t", AuthorID: "a", CreatedAt: time.Now()}
}

func testComment(id, ideaID string) types.Comment {
	return types.Comment{ID: types.CommentID(id), IdeaID: types.IdeaID(ideaID), Text: "x", AuthorID: "b", CreatedAt: time.Now()}
}

func TestApplyServerAuthoritativeOverwrite(t *testing.T) {
	st := store.New()
	ing := New(st, &fakeFeed{}, zerolog.New(io.Discard))

	// Local optimistic state for the same id.
	local := testIdea("i1")
	local.VoteCount = 1
	local.Voters = []types.ActorID{"me"}
	st.UpsertIdea(local)

	remote := testIdea("i1")
	remote.VoteCount = 2
	remote.Voters = []types.ActorID{"x", "y"}
	ing.Apply(ideaEvent(types.EventUpdated, remote))

	got, _ := st.GetIdea("i1")
	if !got.Equal(remote) {
		t.Fatalf("inbound event must replace local state whole: %+v", got)
	}
}

func TestApplyIdempotentReplay(t *testing.T) {
	st := store.New()
	ing := New(st, &fakeFeed{}, zerolog.New(io.Discard))

	idea := testIdea("i1")
	ing.Apply(ideaEvent(types.EventInserted, idea))
	first, _ := st.GetIdea("i1")

	ing.Apply(ideaEvent(types.EventInserted, idea))
	second, _ := st.GetIdea("i1")

	if !first.Equal(second) {
		t.Fatalf("replaying an event changed the store: %+v vs %+v", first, second)
	}
	if ideas, _ := st.Counts(); ideas != 1 {
		t.Fatalf("expected a single idea after replay, got %d", ideas)
	}
}

func TestApplyDeleteThenDeleteIsNoOp(t *testing.T) {
	st := store.New()
	ing := New(st, &fakeFeed{}, zerolog.New(io.Discard))

	idea := testIdea("i1")
	ing.Apply(ideaEvent(types.EventInserted, idea))
	ing.Apply(ideaEvent(types.EventDeleted, idea))
	ing.Apply(ideaEvent(types.EventDeleted, idea))

	if _, ok := st.GetIdea("i1"); ok {
		t.Fatal("idea must stay absent after repeated deletes")
	}
}

func TestApplyDropsCommentForAbsentIdea(t *testing.T) {
	st := store.New()
	ing := New(st, &fakeFeed{}, zerolog.New(io.Discard))

	ing.Apply(commentEvent(types.EventInserted, testComment("c1", "missing")))
	if _, ok := st.GetComment("c1"); ok {
		t.Fatal("comment must not enter the store without its idea")
	}

	ing.Apply(ideaEvent(types.EventInserted, testIdea("i1")))
	ing.Apply(commentEvent(types.EventInserted, testComment("c2", "i1")))
	if _, ok := st.GetComment("c2"); !ok {
		t.Fatal("comment under a present idea must be applied")
	}
}

func TestApplyDropsMalformedEvent(t *testing.T) {
	st := store.New()
	ing := New(st, &fakeFeed{}, zerolog.New(io.Discard))

	ing.Apply(types.ChangeEvent{Collection: types.CollectionIdeas, Kind: types.EventInserted})
	if ideas, _ := st.Counts(); ideas != 0 {
		t.Fatal("malformed event must not mutate the store")
	}
}

func TestRunConsumesAndCloseReleasesSubscription(t *testing.T) {
	st := store.New()
	feed := &fakeFeed{ideas: newFakeSubscription(), comments: newFakeSubscription()}
	ing := New(st, feed, zerolog.New(io.Discard))

	ing.Start(context.Background())
	feed.ideas.events <- ideaEvent(types.EventInserted, testIdea("i1"))

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := st.GetIdea("i1"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event was not consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ing.Close()
	select {
	case <-feed.ideas.closed:
	default:
		t.Fatal("ideas subscription not released on close")
	}
	select {
	case <-feed.comments.closed:
	default:
		t.Fatal("comments subscription not released on close")
	}
}
