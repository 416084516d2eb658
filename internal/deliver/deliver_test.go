package deliver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/outbox"
)

func TestCalculateNextDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 6 * time.Second},
		{3, 12 * time.Second},
	}
	for _, c := range cases {
		if got := calculateNextDelay(c.attempt); got != c.want {
			t.Errorf("calculateNextDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestHeaderInt(t *testing.T) {
	h := amqp.Table{"x-retry-count": int32(3)}
	if got := headerInt(h, "x-retry-count"); got != 3 {
		t.Errorf("headerInt = %d, want 3", got)
	}
	if got := headerInt(nil, "missing"); got != 0 {
		t.Errorf("headerInt on nil table = %d, want 0", got)
	}
}

type fakeStore struct {
	actors       map[id.ID]*domain.Actor
	deleted      []id.ID
	statusMarked map[id.ID]domain.DeliveryStatus
	attempts     map[id.ID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:       map[id.ID]*domain.Actor{},
		statusMarked: map[id.ID]domain.DeliveryStatus{},
		attempts:     map[id.ID]int{},
	}
}

func (f *fakeStore) ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error) { return nil, nil }
func (f *fakeStore) UpdateDeliveryAttempt(deliveryId id.ID, attempts int, nextRetry time.Time) error {
	f.attempts[deliveryId] = attempts
	return nil
}
func (f *fakeStore) MarkDeliveryStatus(deliveryId id.ID, status domain.DeliveryStatus) error {
	f.statusMarked[deliveryId] = status
	return nil
}
func (f *fakeStore) DeleteDelivery(deliveryId id.ID) error {
	f.deleted = append(f.deleted, deliveryId)
	return nil
}
func (f *fakeStore) ReadActorById(actorId id.ID) (*domain.Actor, error) {
	if a, ok := f.actors[actorId]; ok {
		return a, nil
	}
	return nil, errNotFound
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

var errNotFound = &notFoundError{}

type stubHTTPClient struct {
	statusCode int
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: s.statusCode, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func TestDeliverOnePropagatesSignFailureOnBadKey(t *testing.T) {
	store := newFakeStore()
	sender := &domain.Actor{Id: id.New(), ViewURL: "https://local.test/user/alice", PrivateKeyPem: "not a pem"}
	store.actors[sender.Id] = sender

	w := New(store, &stubHTTPClient{statusCode: 200}, nil, 10)
	payload := outbox.PostToInboxPayload{SenderId: sender.Id.String(), InboxURI: "https://remote.test/inbox", ActivityJSON: `{"type":"Follow"}`}

	if err := w.deliverOne(context.Background(), payload); err == nil {
		t.Fatal("expected error parsing an invalid private key")
	}
}

func TestDeliverOneFailsOnUnknownSender(t *testing.T) {
	store := newFakeStore()
	w := New(store, &stubHTTPClient{statusCode: 200}, nil, 10)
	payload := outbox.PostToInboxPayload{SenderId: id.New().String(), InboxURI: "https://remote.test/inbox", ActivityJSON: `{}`}

	if err := w.deliverOne(context.Background(), payload); err == nil {
		t.Fatal("expected error for unknown sender actor")
	}
}
