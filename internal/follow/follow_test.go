package follow

import (
	"context"
	"testing"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

type fakeStore struct {
	byURI        map[string]*domain.Follow
	byAccounts   map[[2]id.ID]*domain.Follow
	actors       map[id.ID]*domain.Actor
	delivered    []*domain.DeliveryQueueItem
	deletedByURI []string
	notified     []*domain.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byURI:      map[string]*domain.Follow{},
		byAccounts: map[[2]id.ID]*domain.Follow{},
		actors:     map[id.ID]*domain.Actor{},
	}
}

func (f *fakeStore) CreateFollow(fl *domain.Follow) error {
	cp := *fl
	f.byURI[fl.URI] = &cp
	f.byAccounts[[2]id.ID{fl.AccountId, fl.TargetAccountId}] = &cp
	return nil
}

func (f *fakeStore) CreateFollowWithDelivery(ctx context.Context, fl *domain.Follow, item *domain.DeliveryQueueItem) error {
	if err := f.CreateFollow(fl); err != nil {
		return err
	}
	return f.EnqueueDelivery(item)
}

func (f *fakeStore) CreateFollowWithNotification(ctx context.Context, fl *domain.Follow, n *domain.Notification) error {
	if err := f.CreateFollow(fl); err != nil {
		return err
	}
	f.notified = append(f.notified, n)
	return nil
}

func (f *fakeStore) ReadFollowByURI(uri string) (*domain.Follow, error) {
	if fl, ok := f.byURI[uri]; ok {
		return fl, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) ReadFollowByAccountIds(accountId, targetId id.ID) (*domain.Follow, error) {
	if fl, ok := f.byAccounts[[2]id.ID{accountId, targetId}]; ok {
		return fl, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) AcceptFollowByURI(uri string) error {
	fl, ok := f.byURI[uri]
	if !ok {
		return errNotFound
	}
	fl.Pending = false
	return nil
}

func (f *fakeStore) DeleteFollowByURI(uri string) error {
	fl, ok := f.byURI[uri]
	if !ok {
		return errNotFound
	}
	delete(f.byURI, uri)
	delete(f.byAccounts, [2]id.ID{fl.AccountId, fl.TargetAccountId})
	f.deletedByURI = append(f.deletedByURI, uri)
	return nil
}

func (f *fakeStore) DeleteFollowByAccountIds(accountId, targetId id.ID) error {
	key := [2]id.ID{accountId, targetId}
	fl, ok := f.byAccounts[key]
	if !ok {
		return errNotFound
	}
	delete(f.byAccounts, key)
	delete(f.byURI, fl.URI)
	return nil
}

func (f *fakeStore) ReadActorById(actorId id.ID) (*domain.Actor, error) {
	if a, ok := f.actors[actorId]; ok {
		return a, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	f.delivered = append(f.delivered, item)
	return nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

var errNotFound = &notFoundError{}

func newActor(username, domainHost, viewURL, inbox string) *domain.Actor {
	return &domain.Actor{Id: id.New(), Username: username, Domain: domainHost, ViewURL: viewURL, InboxURI: inbox}
}

func TestFollowEnqueuesActivityAndCreatesPendingEdge(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, "https://local.test", "local.test")

	local := newActor("alice", "", "https://local.test/user/"+id.New().String(), "")
	remote := newActor("bob", "remote.test", "https://remote.test/users/bob", "https://remote.test/users/bob/inbox")

	f, err := m.Follow(context.Background(), local, remote)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if !f.Pending {
		t.Error("expected new outbound follow to be pending")
	}
	if len(store.delivered) != 1 {
		t.Fatalf("expected 1 delivery enqueued, got %d", len(store.delivered))
	}
	if store.delivered[0].InboxURI != remote.InboxURI {
		t.Errorf("delivery addressed to %s, want %s", store.delivered[0].InboxURI, remote.InboxURI)
	}

	if _, err := m.Follow(context.Background(), local, remote); err != ErrAlreadyFollowing {
		t.Errorf("expected ErrAlreadyFollowing on duplicate Follow, got %v", err)
	}
}

func TestHandleInboundFollowAutoAccepts(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, "https://local.test", "local.test")

	local := newActor("alice", "", "https://local.test/user/"+id.New().String(), "")
	local.AutoFollowAccept = true
	remote := newActor("bob", "remote.test", "https://remote.test/users/bob", "https://remote.test/users/bob/inbox")

	f, err := m.HandleInboundFollow(context.Background(), local, remote, "https://remote.test/activities/1")
	if err != nil {
		t.Fatalf("HandleInboundFollow: %v", err)
	}
	if f.Pending {
		t.Error("expected auto-accept to create a non-pending edge")
	}
	if len(store.delivered) != 1 {
		t.Fatalf("expected an Accept to be enqueued, got %d deliveries", len(store.delivered))
	}
	if len(store.notified) != 1 || store.notified[0].NotificationType != domain.NotificationFollow {
		t.Fatalf("expected a follow notification, got %v", store.notified)
	}
}

func TestHandleInboundFollowRequiresManualAccept(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, "https://local.test", "local.test")

	local := newActor("alice", "", "https://local.test/user/"+id.New().String(), "")
	remote := newActor("bob", "remote.test", "https://remote.test/users/bob", "https://remote.test/users/bob/inbox")

	f, err := m.HandleInboundFollow(context.Background(), local, remote, "https://remote.test/activities/1")
	if err != nil {
		t.Fatalf("HandleInboundFollow: %v", err)
	}
	if !f.Pending {
		t.Error("expected manual-accept actor's inbound follow to remain pending")
	}
	if len(store.delivered) != 0 {
		t.Errorf("expected no Accept enqueued without AutoFollowAccept, got %d", len(store.delivered))
	}
	if len(store.notified) != 1 || store.notified[0].NotificationType != domain.NotificationFollowRequest {
		t.Fatalf("expected a follow_request notification, got %v", store.notified)
	}

	if err := m.AcceptPending(f.URI); err != nil {
		t.Fatalf("AcceptPending: %v", err)
	}
	got, _ := store.ReadFollowByURI(f.URI)
	if got.Pending {
		t.Error("expected follow to be accepted after AcceptPending")
	}
}

func TestHandleInboundUndoRejectsMismatchedActor(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, "https://local.test", "local.test")

	follower := newActor("bob", "remote.test", "https://remote.test/users/bob", "https://remote.test/users/bob/inbox")
	store.actors[follower.Id] = follower

	followURI := "https://remote.test/activities/1"
	store.byURI[followURI] = &domain.Follow{Id: id.New(), AccountId: follower.Id, TargetAccountId: id.New(), URI: followURI, Pending: false}

	if err := m.HandleInboundUndo(followURI, "https://remote.test/users/mallory"); err != ErrUnauthorizedUndo {
		t.Fatalf("expected ErrUnauthorizedUndo, got %v", err)
	}

	if err := m.HandleInboundUndo(followURI, follower.ViewURL); err != nil {
		t.Fatalf("HandleInboundUndo: %v", err)
	}
	if len(store.deletedByURI) != 1 {
		t.Errorf("expected follow to be deleted after authorized undo, got %v", store.deletedByURI)
	}
}
