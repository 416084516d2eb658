package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/config"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/inbox"
	"github.com/gin-gonic/gin"
)

// fakeStore implements httpapi.Store over plain maps, mirroring the
// fakeStore pattern internal/inbox's own tests use.
type fakeStore struct {
	actors         map[id.ID]*domain.Actor
	actorsByHandle map[string]*domain.Actor
	notes          map[id.ID]*domain.Note
	followers      map[id.ID][]domain.Follow
	following      map[id.ID][]domain.Follow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:         map[id.ID]*domain.Actor{},
		actorsByHandle: map[string]*domain.Actor{},
		notes:          map[id.ID]*domain.Note{},
		followers:      map[id.ID][]domain.Follow{},
		following:      map[id.ID][]domain.Follow{},
	}
}

func (s *fakeStore) ReadActorById(actorId id.ID) (*domain.Actor, error) {
	return s.actors[actorId], nil
}

func (s *fakeStore) ReadActorByUsernameDomain(username, domainName string) (*domain.Actor, error) {
	return s.actorsByHandle[username+"@"+domainName], nil
}

func (s *fakeStore) ReadNoteById(noteId id.ID) (*domain.Note, error) {
	return s.notes[noteId], nil
}

func (s *fakeStore) ReadOutboxPage(authorId id.ID, beforeCreatedAt *string, limit int) ([]domain.Note, error) {
	return nil, nil
}

func (s *fakeStore) ReadPublicNotesByAuthor(authorId id.ID, limit int) ([]domain.Note, error) {
	return nil, nil
}

func (s *fakeStore) ReadNoteMentionsByNoteId(noteId id.ID) ([]domain.NoteMention, error) {
	return nil, nil
}

func (s *fakeStore) CountNotesByAuthor(authorId id.ID) (int, error) { return 0, nil }

func (s *fakeStore) ReadFollowersPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error) {
	return s.followers[accountId], nil
}

func (s *fakeStore) ReadFollowingPage(accountId id.ID, beforeCreatedAt *string, limit int) ([]domain.Follow, error) {
	return s.following[accountId], nil
}

func (s *fakeStore) CountFollowers(accountId id.ID) (int, error) { return len(s.followers[accountId]), nil }
func (s *fakeStore) CountFollowing(accountId id.ID) (int, error) { return len(s.following[accountId]), nil }
func (s *fakeStore) CountAccounts() (int, error)                 { return len(s.actors), nil }
func (s *fakeStore) CountLocalPosts() (int, error)                { return len(s.notes), nil }
func (s *fakeStore) CountActiveUsersMonth() (int, error)          { return 0, nil }
func (s *fakeStore) CountActiveUsersHalfYear() (int, error)       { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:        "https://federate.example",
		OutboxPageSize: 20,
	}
}

func testServer(store *fakeStore) *Server {
	cfg := testConfig()
	return New(cfg, store, inbox.New(nil, nil, nil, nil, ""))
}

func newLocalActor(username string) *domain.Actor {
	actorId := id.New()
	return &domain.Actor{
		Id:             actorId,
		Username:       username,
		ViewURL:        "https://federate.example/user/" + actorId.String(),
		InboxURI:       "https://federate.example/user/" + actorId.String() + "/inbox",
		OutboxURI:      "https://federate.example/user/" + actorId.String() + "/outbox",
		FollowersURI:   "https://federate.example/user/" + actorId.String() + "/followers",
		FollowingURI:   "https://federate.example/user/" + actorId.String() + "/following",
		CreatedAt:      time.Now(),
	}
}

func TestHandleActor_NotFoundForUnknownID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := testServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/user/"+id.New().String(), nil)
	req.Header.Set("Accept", "application/activity+json")
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleActor_BrowserAcceptGets404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor

	srv := testServer(store)
	req := httptest.NewRequest(http.MethodGet, "/user/"+actor.Id.String(), nil)
	req.Header.Set("Accept", "text/html")
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for browser Accept header, got %d", rr.Code)
	}
}

func TestHandleActor_ReturnsActivityJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor

	srv := testServer(store)
	req := httptest.NewRequest(http.MethodGet, "/user/"+actor.Id.String(), nil)
	req.Header.Set("Accept", "application/activity+json")
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != activityJSONContentType {
		t.Errorf("expected content type %q, got %q", activityJSONContentType, ct)
	}
}

func TestHandleNote_TombstoneForDeleted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor

	noteId := id.New()
	deletedAt := time.Now()
	store.notes[noteId] = &domain.Note{
		Id:        noteId,
		AuthorId:  actor.Id,
		ViewURL:   "https://federate.example/note/" + noteId.String(),
		DeletedAt: &deletedAt,
		CreatedAt: time.Now(),
	}

	srv := testServer(store)
	req := httptest.NewRequest(http.MethodGet, "/note/"+noteId.String(), nil)
	req.Header.Set("Accept", "application/activity+json")
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusGone {
		t.Fatalf("expected 410 Gone for a tombstoned note, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleWebfinger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor
	store.actorsByHandle["alice@"] = actor

	srv := testServer(store)

	tests := []struct {
		name       string
		resource   string
		wantStatus int
	}{
		{"missing acct prefix", "mailto:alice@federate.example", http.StatusBadRequest},
		{"invalid username chars", "acct:ali%20ce@federate.example", http.StatusBadRequest},
		{"wrong domain", "acct:alice@other.example", http.StatusNotFound},
		{"unknown user", "acct:bob@federate.example", http.StatusNotFound},
		{"known local user", "acct:alice@federate.example", http.StatusOK},
		{"bare username, no domain", "acct:alice", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource="+tt.resource, nil)
			rr := httptest.NewRecorder()
			srv.Engine().ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("resource %q: expected %d, got %d: %s", tt.resource, tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleNodeInfo21(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := testServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/nodeinfo/2.1", nil)
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleFollowers_EmptyCollection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor

	srv := testServer(store)
	req := httptest.NewRequest(http.MethodGet, "/user/"+actor.Id.String()+"/followers", nil)
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleOutbox_InvalidCursorRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	actor := newLocalActor("alice")
	store.actors[actor.Id] = actor

	srv := testServer(store)
	req := httptest.NewRequest(http.MethodGet, "/user/"+actor.Id.String()+"/outbox?key=not-a-valid-cursor", nil)
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed cursor, got %d", rr.Code)
	}
}
