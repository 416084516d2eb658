package resolve

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/cache"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/fetch"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

type fakeStore struct {
	actorsByViewURL map[string]*domain.Actor
	upserted        []*domain.Actor
}

func newFakeStore() *fakeStore {
	return &fakeStore{actorsByViewURL: map[string]*domain.Actor{}}
}

func (f *fakeStore) ReadActorByUsernameDomain(username, domain string) (*domain.Actor, error) {
	return nil, errNotFound
}
func (f *fakeStore) ReadActorById(actorId id.ID) (*domain.Actor, error) { return nil, errNotFound }
func (f *fakeStore) ReadActorByViewURL(url string) (*domain.Actor, error) {
	if a, ok := f.actorsByViewURL[url]; ok {
		return a, nil
	}
	return nil, errNotFound
}
func (f *fakeStore) UpsertRemoteActor(a *domain.Actor) error {
	f.upserted = append(f.upserted, a)
	f.actorsByViewURL[a.ViewURL] = a
	return nil
}
func (f *fakeStore) ReadNoteByURL(url string) (*domain.Note, error) { return nil, errNotFound }
func (f *fakeStore) CreateNote(n *domain.Note) error                { return nil }

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

type stubHTTPClient struct {
	body string
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(s.body)), Header: make(http.Header)}, nil
}

func TestResolveActorByURIFetchesAndCaches(t *testing.T) {
	store := newFakeStore()
	fetcher := fetch.New(time.Second, cache.NewMemory(time.Minute))
	body := `{"id":"https://remote.test/users/alice","type":"Person","preferredUsername":"alice",
		"inbox":"https://remote.test/users/alice/inbox",
		"publicKey":{"publicKeyPem":"-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----"}}`
	fetcher.SetHTTPClient(&stubHTTPClient{body: body})

	resolver := New(store, fetcher, "local.test", time.Hour, 10)

	a, err := resolver.ResolveActorByURI(context.Background(), "https://remote.test/users/alice")
	if err != nil {
		t.Fatalf("resolve actor: %v", err)
	}
	if a.Username != "alice" || a.IsLocal() {
		t.Errorf("unexpected actor: %+v", a)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(store.upserted))
	}

	// second resolve within the freshness window hits the store cache, not the network
	if _, err := resolver.ResolveActorByURI(context.Background(), "https://remote.test/users/alice"); err != nil {
		t.Fatalf("resolve actor (cached): %v", err)
	}
	if len(store.upserted) != 1 {
		t.Errorf("expected no second upsert within freshness window, got %d", len(store.upserted))
	}
}

func TestResolveNoteByURLRecursionLimit(t *testing.T) {
	store := newFakeStore()
	fetcher := fetch.New(time.Second, cache.NewMemory(time.Minute))
	resolver := New(store, fetcher, "local.test", time.Hour, 0)

	_, err := resolver.ResolveNoteByURL(context.Background(), "https://remote.test/notes/1", 1)
	if err != ErrRecursionLimit {
		t.Fatalf("got %v, want ErrRecursionLimit", err)
	}
}
