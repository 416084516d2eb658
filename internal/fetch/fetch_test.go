package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/cache"
)

type stubHTTPClient struct {
	status int
	body   string
	calls  int
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
	}, nil
}

func newTestClient(stub *stubHTTPClient) *Client {
	c := New(time.Second, cache.NewMemory(time.Minute))
	c.http = stub
	return c
}

func TestFetchObjectCaches(t *testing.T) {
	stub := &stubHTTPClient{status: 200, body: `{"type":"Person","id":"https://remote.test/users/alice"}`}
	c := newTestClient(stub)

	obj, err := c.FetchObject(context.Background(), "https://remote.test/users/alice")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if obj["type"] != "Person" {
		t.Errorf("unexpected object: %+v", obj)
	}

	if _, err := c.FetchObject(context.Background(), "https://remote.test/users/alice"); err != nil {
		t.Fatalf("fetch (cached): %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("expected 1 http call (second served from cache), got %d", stub.calls)
	}
}

func TestFetchObjectGone(t *testing.T) {
	stub := &stubHTTPClient{status: http.StatusGone, body: ""}
	c := newTestClient(stub)

	_, err := c.FetchObject(context.Background(), "https://remote.test/users/deleted")
	if err != ErrGone {
		t.Errorf("got %v, want ErrGone", err)
	}
}

func TestWebFingerResolve(t *testing.T) {
	stub := &stubHTTPClient{status: 200, body: `{"links":[{"rel":"self","type":"application/activity+json","href":"https://remote.test/users/alice"}]}`}
	c := newTestClient(stub)

	url, err := c.WebFingerResolve(context.Background(), "alice@remote.test")
	if err != nil {
		t.Fatalf("webfinger: %v", err)
	}
	if url != "https://remote.test/users/alice" {
		t.Errorf("got %q", url)
	}
}

func TestWebFingerResolveInvalidHandle(t *testing.T) {
	c := newTestClient(&stubHTTPClient{})
	if _, err := c.WebFingerResolve(context.Background(), "not-a-handle"); err == nil {
		t.Error("expected error for handle without @domain")
	}
}
