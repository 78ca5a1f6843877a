package mutate

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/types"
)

// fakeBackend records CRUD calls and fails the operations named in fail.
type fakeBackend struct {
	fail  map[string]error
	calls []string
}

func (f *fakeBackend) do(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeBackend) InsertIdea(context.Context, types.Idea) error      { return f.do("insert_idea") }
func (f *fakeBackend) UpdateIdea(context.Context, types.Idea) error      { return f.do("update_idea") }
func (f *fakeBackend) DeleteIdea(context.Context, types.IdeaID) error    { return f.do("delete_idea") }
func (f *fakeBackend) InsertComment(context.Context, types.Comment) error {
	return f.do("insert_comment")
}
func (f *fakeBackend) UpdateComment(context.Context, types.Comment) error {
	return f.do("update_comment")
}
func (f *fakeBackend) DeleteComment(context.Context, types.CommentID) error {
	return f.do("delete_comment")
}
func (f *fakeBackend) QueryIdeas(context.Context) ([]types.Idea, error)       { return nil, nil }
func (f *fakeBackend) QueryComments(context.Context) ([]types.Comment, error) { return nil, nil }
func (f *fakeBackend) SubscribeIdeas(context.Context) (backend.Subscription, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) SubscribeComments(context.Context) (backend.Subscription, error) {
	return nil, errors.New("not implemented")
}

func newExecutor(remote *fakeBackend) (*Executor, *store.Store) {
	st := store.New()
	exec := NewExecutor(st, remote, zerolog.New(io.Discard))
	return exec, st
}

func TestCreateIdeaRejectsBlankTitle(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	_, err := exec.CreateIdea(context.Background(), "   \t", "desc", "alice")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ideas, _ := st.Counts(); ideas != 0 {
		t.Fatal("rejected mutation must not touch the store")
	}
	if len(remote.calls) != 0 {
		t.Fatal("rejected mutation must not reach the backend")
	}
}

func TestCreateIdeaOptimisticThenConfirmed(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, err := exec.CreateIdea(context.Background(), "Faster builds", "", "alice")
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	got, ok := st.GetIdea(idea.ID)
	if !ok {
		t.Fatal("idea missing from store after create")
	}
	if got.VoteCount != 0 || len(got.Voters) != 0 {
		t.Fatalf("fresh idea must start unvoted, got %+v", got)
	}
	if got.AuthorID != "alice" || got.Title != "Faster builds" {
		t.Fatalf("unexpected idea %+v", got)
	}
}

func TestCreateIdeaRollbackOnRemoteFailure(t *testing.T) {
	remote := &fakeBackend{fail: map[string]error{"insert_idea": errors.New("boom")}}
	exec, st := newExecutor(remote)

	_, err := exec.CreateIdea(context.Background(), "Faster builds", "", "alice")
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if ideas, _ := st.Counts(); ideas != 0 {
		t.Fatal("optimistic insert must be removed after remote failure")
	}
}

func TestDeleteIdeaAuthorization(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Mine", "", "alice")

	err := exec.DeleteIdea(context.Background(), idea.ID, "mallory")
	var aerr *AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if _, ok := st.GetIdea(idea.ID); !ok {
		t.Fatal("rejected delete must not remove the idea")
	}
	for _, call := range remote.calls {
		if call == "delete_idea" {
			t.Fatal("rejected delete must not reach the backend")
		}
	}
}

func TestDeleteIdeaRollbackRestoresExactSnapshot(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Mine", "detail", "alice")
	voted, _ := exec.ToggleVote(context.Background(), idea.ID, "bob")
	comment, _ := exec.CreateComment(context.Background(), idea.ID, "agreed", "bob")

	remote.fail = map[string]error{"delete_idea": errors.New("boom")}
	err := exec.DeleteIdea(context.Background(), idea.ID, "alice")
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}

	restored, ok := st.GetIdea(idea.ID)
	if !ok {
		t.Fatal("idea must be re-inserted after failed delete")
	}
	if !restored.Equal(voted) {
		t.Fatalf("rollback not exact: got %+v want %+v", restored, voted)
	}
	restoredComment, ok := st.GetComment(comment.ID)
	if !ok {
		t.Fatal("cascaded comment must be re-inserted after failed delete")
	}
	if !restoredComment.Equal(comment) {
		t.Fatalf("comment rollback not exact: got %+v want %+v", restoredComment, comment)
	}
}

func TestDeleteAbsentIdeaIsSuccess(t *testing.T) {
	remote := &fakeBackend{}
	exec, _ := newExecutor(remote)

	ideaNoops := testutil.ToFloat64(mutations.WithLabelValues("delete_idea", outcomeNoop))
	commentNoops := testutil.ToFloat64(mutations.WithLabelValues("delete_comment", outcomeNoop))

	if err := exec.DeleteIdea(context.Background(), "gone", "alice"); err != nil {
		t.Fatalf("deleting an absent id must succeed, got %v", err)
	}
	if err := exec.DeleteComment(context.Background(), "gone", "alice"); err != nil {
		t.Fatalf("deleting an absent comment must succeed, got %v", err)
	}
	if len(remote.calls) != 0 {
		t.Fatal("absent delete must not reach the backend")
	}

	if got := testutil.ToFloat64(mutations.WithLabelValues("delete_idea", outcomeNoop)); got != ideaNoops+1 {
		t.Fatalf("delete_idea noop outcome not counted: %v", got)
	}
	if got := testutil.ToFloat64(mutations.WithLabelValues("delete_comment", outcomeNoop)); got != commentNoops+1 {
		t.Fatalf("delete_comment noop outcome not counted: %v", got)
	}
}

func TestToggleVoteRoundTrip(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")

	after, err := exec.ToggleVote(context.Background(), idea.ID, "v")
	if err != nil {
		t.Fatalf("toggle vote: %v", err)
	}
	if after.VoteCount != 1 || len(after.Voters) != 1 || after.Voters[0] != "v" {
		t.Fatalf("expected single vote by v, got %+v", after)
	}

	again, err := exec.ToggleVote(context.Background(), idea.ID, "v")
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if again.VoteCount != 0 || len(again.Voters) != 0 {
		t.Fatalf("expected vote withdrawn, got %+v", again)
	}

	stored, _ := st.GetIdea(idea.ID)
	if stored.VoteCount != 0 || len(stored.Voters) != 0 {
		t.Fatalf("store out of sync: %+v", stored)
	}
}

func TestToggleVoteRollback(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")
	voted, _ := exec.ToggleVote(context.Background(), idea.ID, "v")

	remote.fail = map[string]error{"update_idea": errors.New("boom")}
	if _, err := exec.ToggleVote(context.Background(), idea.ID, "w"); err == nil {
		t.Fatal("expected remote failure")
	}

	stored, _ := st.GetIdea(idea.ID)
	if !stored.Equal(voted) {
		t.Fatalf("pre-toggle state not restored: got %+v want %+v", stored, voted)
	}
}

func TestCreateCommentValidation(t *testing.T) {
	remote := &fakeBackend{}
	exec, _ := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")

	if _, err := exec.CreateComment(context.Background(), idea.ID, "  ", "v"); err == nil {
		t.Fatal("blank text must be rejected")
	}
	var verr *ValidationError
	if _, err := exec.CreateComment(context.Background(), "no-such-idea", "hi", "v"); !errors.As(err, &verr) {
		t.Fatalf("comment under absent idea must be a ValidationError, got %v", err)
	}
}

func TestCreateCommentRollbackRestoresListLength(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")
	exec.CreateComment(context.Background(), idea.ID, "first", "v")
	before := len(st.ListComments(idea.ID))

	remote.fail = map[string]error{"insert_comment": errors.New("boom")}
	if _, err := exec.CreateComment(context.Background(), idea.ID, "doomed", "v"); err == nil {
		t.Fatal("expected remote failure")
	}

	if got := len(st.ListComments(idea.ID)); got != before {
		t.Fatalf("comment list length %d after rollback, want %d", got, before)
	}
}

func TestToggleLikeAndDeleteComment(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")
	comment, _ := exec.CreateComment(context.Background(), idea.ID, "hi", "v")

	liked, err := exec.ToggleLike(context.Background(), comment.ID, "w")
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if liked.LikeCount != 1 || liked.LikedBy[0] != "w" {
		t.Fatalf("unexpected like state %+v", liked)
	}

	remote.fail = map[string]error{"update_comment": errors.New("boom")}
	if _, err := exec.ToggleLike(context.Background(), comment.ID, "x"); err == nil {
		t.Fatal("expected remote failure")
	}
	stored, _ := st.GetComment(comment.ID)
	if !stored.Equal(liked) {
		t.Fatalf("like rollback not exact: %+v want %+v", stored, liked)
	}

	var aerr *AuthorizationError
	if err := exec.DeleteComment(context.Background(), comment.ID, "w"); !errors.As(err, &aerr) {
		t.Fatalf("non-author delete must be rejected, got %v", err)
	}

	remote.fail = nil
	if err := exec.DeleteComment(context.Background(), comment.ID, "v"); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if _, ok := st.GetComment(comment.ID); ok {
		t.Fatal("comment still present after delete")
	}
}

func TestDeleteCommentRollbackExact(t *testing.T) {
	remote := &fakeBackend{}
	exec, st := newExecutor(remote)

	idea, _ := exec.CreateIdea(context.Background(), "Faster builds", "", "u")
	comment, _ := exec.CreateComment(context.Background(), idea.ID, "hi", "v")
	liked, err := exec.ToggleLike(context.Background(), comment.ID, "w")
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}

	remote.fail = map[string]error{"delete_comment": errors.New("boom")}
	var rerr *RemoteError
	if err := exec.DeleteComment(context.Background(), comment.ID, "v"); !errors.As(err, &rerr) {
		t.Fatalf("expected remote failure, got %v", err)
	}

	restored, ok := st.GetComment(comment.ID)
	if !ok {
		t.Fatal("comment not re-inserted after rollback")
	}
	if !restored.Equal(liked) {
		t.Fatalf("delete rollback not exact: %+v want %+v", restored, liked)
	}
	if got := len(st.ListComments(idea.ID)); got != 1 {
		t.Fatalf("comment list length %d after rollback, want 1", got)
	}
}

func TestClockOption(t *testing.T) {
	remote := &fakeBackend{}
	st := store.New()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := NewExecutor(st, remote, zerolog.New(io.Discard), WithClock(func() time.Time { return fixed }))

	idea, err := exec.CreateIdea(context.Background(), "t", "", "a")
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	if !idea.CreatedAt.Equal(fixed) {
		t.Fatalf("expected injected clock, got %v", idea.CreatedAt)
	}
}
