// Package follow implements C8: the Follow/Accept/Reject/Undo state machine
// for both directions of a federated follow relationship. Grounded on
// gnp-x-stegodon/activitypub/inbox.go's handleFollowActivityWithDeps,
// handleAcceptActivityWithDeps and handleUndoActivityWithDeps for the
// inbound side, and outbox.go's SendFollowWithDeps/SendAcceptWithDeps/
// SendUndoWithDeps for the outbound side - retargeted at the unified
// domain.Actor and the write-ahead delivery_queue instead of a direct
// synchronous HTTP POST.
package follow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

// ErrUnauthorizedUndo is returned when an inbound Undo's actor does not
// match the actor that created the Follow it targets.
var ErrUnauthorizedUndo = errors.New("follow: undo actor does not match follow actor")

// ErrAlreadyFollowing is returned by Follow when an edge between the two
// actors already exists, mirroring the teacher's "skip duplicate" log line
// but surfaced to the caller instead of being silently swallowed.
var ErrAlreadyFollowing = errors.New("follow: edge already exists")

// Store is the persistence seam follow depends on, satisfied by
// *store.Store (the ...WithDelivery/...WithNotification methods are not on
// *db.DB).
type Store interface {
	CreateFollow(f *domain.Follow) error
	CreateFollowWithDelivery(ctx context.Context, f *domain.Follow, item *domain.DeliveryQueueItem) error
	CreateFollowWithNotification(ctx context.Context, f *domain.Follow, n *domain.Notification) error
	ReadFollowByURI(uri string) (*domain.Follow, error)
	ReadFollowByAccountIds(accountId, targetId id.ID) (*domain.Follow, error)
	AcceptFollowByURI(uri string) error
	DeleteFollowByURI(uri string) error
	DeleteFollowByAccountIds(accountId, targetId id.ID) error
	ReadActorById(actorId id.ID) (*domain.Actor, error)
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
}

// Notifier delivers the best-effort push side-effect for a notification
// follow has already persisted via Store, satisfied by *notify.Service.
type Notifier interface {
	PushNotification(n *domain.Notification)
}

// Manager drives the follow state machine against a Store.
type Manager struct {
	store    Store
	notifier Notifier
	baseURL  string
	myDomain string
}

// New builds a Manager. baseURL is the scheme+host used to mint local
// activity URIs (e.g. "https://stegodon.example"); myDomain is its host.
// notifier may be nil, in which case inbound-follow notifications are
// persisted but never pushed.
func New(store Store, notifier Notifier, baseURL, myDomain string) *Manager {
	return &Manager{store: store, notifier: notifier, baseURL: baseURL, myDomain: myDomain}
}

func (m *Manager) activityURI() string {
	return id.ToLocalURL(m.baseURL, id.KindActivity, id.New())
}

// Follow records a local actor's outbound follow request and enqueues the
// AP Follow activity for delivery to target's inbox, both in a single
// transaction via CreateFollowWithDelivery per spec.md §4.8's "all
// transitions are single-transaction": a crash between the edge insert and
// the delivery row must never leave a pending follow with no Follow
// activity ever sent. The edge starts Pending until an Accept (or
// auto-accept skip, for relays) arrives.
func (m *Manager) Follow(ctx context.Context, local, target *domain.Actor) (*domain.Follow, error) {
	if local.Id == target.Id {
		return nil, errors.New("follow: an actor cannot follow itself")
	}
	if existing, err := m.store.ReadFollowByAccountIds(local.Id, target.Id); err == nil && existing != nil {
		return existing, ErrAlreadyFollowing
	}

	f := &domain.Follow{
		Id:              id.New(),
		AccountId:       local.Id,
		TargetAccountId: target.Id,
		URI:             m.activityURI(),
		CreatedAt:       time.Now(),
		Pending:         true,
		IsLocal:         true,
	}

	activity := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       f.URI,
		"type":     "Follow",
		"actor":    local.ViewURL,
		"object":   target.ViewURL,
	}
	item, err := buildDeliveryItem(&local.Id, target.PreferredInbox(), activity)
	if err != nil {
		return nil, fmt.Errorf("follow: build delivery: %w", err)
	}
	if err := m.store.CreateFollowWithDelivery(ctx, f, item); err != nil {
		return nil, fmt.Errorf("follow: create edge with delivery: %w", err)
	}
	return f, nil
}

// Unfollow sends an Undo(Follow) for an existing edge and removes it
// locally without waiting for a remote round trip, matching
// SendUndoWithDeps's fire-and-forget semantics.
func (m *Manager) Unfollow(local, target *domain.Actor, f *domain.Follow) error {
	activity := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       m.activityURI(),
		"type":     "Undo",
		"actor":    local.ViewURL,
		"object": map[string]interface{}{
			"id":     f.URI,
			"type":   "Follow",
			"actor":  local.ViewURL,
			"object": target.ViewURL,
		},
	}
	if err := m.enqueue(&local.Id, target.PreferredInbox(), activity); err != nil {
		return fmt.Errorf("follow: enqueue undo delivery: %w", err)
	}
	return m.store.DeleteFollowByAccountIds(local.Id, target.Id)
}

// HandleInboundFollow processes a remote actor's Follow of a local actor:
// creates the edge and its Followed(F)/follow-request notification
// atomically (spec.md §4.12), and when local.AutoFollowAccept is set,
// immediately enqueues an Accept back to the follower.
func (m *Manager) HandleInboundFollow(ctx context.Context, local, remote *domain.Actor, followActivityURI string) (*domain.Follow, error) {
	if existing, err := m.store.ReadFollowByAccountIds(remote.Id, local.Id); err == nil && existing != nil {
		if local.AutoFollowAccept && existing.Pending {
			if err := m.sendAccept(local, remote, followActivityURI); err != nil {
				return existing, err
			}
		}
		return existing, nil
	}

	f := &domain.Follow{
		Id:              id.New(),
		AccountId:       remote.Id,
		TargetAccountId: local.Id,
		URI:             followActivityURI,
		CreatedAt:       time.Now(),
		Pending:         !local.AutoFollowAccept,
		IsLocal:         false,
	}
	n := followNotification(local.Id, remote, f)
	if err := m.store.CreateFollowWithNotification(ctx, f, n); err != nil {
		return nil, fmt.Errorf("follow: create inbound edge: %w", err)
	}
	if m.notifier != nil {
		m.notifier.PushNotification(n)
	}

	if local.AutoFollowAccept {
		if err := m.sendAccept(local, remote, followActivityURI); err != nil {
			return f, err
		}
	}
	return f, nil
}

// followNotification builds the notification HandleInboundFollow's edge
// triggers: NotificationFollow when it was auto-accepted (the follower is
// now actually following), NotificationFollowRequest while it awaits manual
// approval.
func followNotification(recipient id.ID, remote *domain.Actor, f *domain.Follow) *domain.Notification {
	kind := domain.NotificationFollow
	if f.Pending {
		kind = domain.NotificationFollowRequest
	}
	return &domain.Notification{
		Id:               id.New(),
		AccountId:        recipient,
		NotificationType: kind,
		ActorId:          remote.Id,
		ActorUsername:    remote.Username,
		ActorDomain:      remote.Domain,
		CreatedAt:        f.CreatedAt,
	}
}

func (m *Manager) sendAccept(local, remote *domain.Actor, followActivityURI string) error {
	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       m.activityURI(),
		"type":     "Accept",
		"actor":    local.ViewURL,
		"object": map[string]interface{}{
			"id":     followActivityURI,
			"type":   "Follow",
			"actor":  remote.ViewURL,
			"object": local.ViewURL,
		},
	}
	if err := m.enqueue(&local.Id, remote.PreferredInbox(), accept); err != nil {
		return fmt.Errorf("follow: enqueue accept delivery: %w", err)
	}
	return nil
}

// AcceptPending flips a local actor's outbound follow request to accepted
// on receipt of a remote Accept activity referencing its URI.
func (m *Manager) AcceptPending(followActivityURI string) error {
	if err := m.store.AcceptFollowByURI(followActivityURI); err != nil {
		return fmt.Errorf("follow: accept %s: %w", followActivityURI, err)
	}
	return nil
}

// RejectPending removes a local actor's outbound follow request on receipt
// of a remote Reject activity referencing its URI.
func (m *Manager) RejectPending(followActivityURI string) error {
	if err := m.store.DeleteFollowByURI(followActivityURI); err != nil {
		return fmt.Errorf("follow: reject %s: %w", followActivityURI, err)
	}
	return nil
}

// HandleInboundUndo processes a remote Undo(Follow): the edge is removed
// only if undoActorURI matches the actor that originally created it, per
// handleUndoActivityWithDeps's authorization check.
func (m *Manager) HandleInboundUndo(followActivityURI, undoActorURI string) error {
	f, err := m.store.ReadFollowByURI(followActivityURI)
	if err != nil {
		return fmt.Errorf("follow: undo target not found: %w", err)
	}
	follower, err := m.store.ReadActorById(f.AccountId)
	if err != nil {
		return fmt.Errorf("follow: undo follower actor not found: %w", err)
	}
	if follower.ViewURL != undoActorURI {
		return ErrUnauthorizedUndo
	}
	return m.store.DeleteFollowByURI(followActivityURI)
}

func (m *Manager) enqueue(senderId *id.UserID, inbox string, activity map[string]interface{}) error {
	item, err := buildDeliveryItem(senderId, inbox, activity)
	if err != nil {
		return err
	}
	return m.store.EnqueueDelivery(item)
}

// buildDeliveryItem marshals activity into a pending delivery_queue row
// addressed to inbox, without persisting it - the caller either hands it to
// EnqueueDelivery directly or folds it into an atomic CreateFollowWithDelivery
// write.
func buildDeliveryItem(senderId *id.UserID, inbox string, activity map[string]interface{}) (*domain.DeliveryQueueItem, error) {
	rawBytes, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("follow: marshal activity: %w", err)
	}
	return &domain.DeliveryQueueItem{
		Id:           id.New(),
		AccountId:    senderId,
		InboxURI:     inbox,
		ActivityJSON: string(rawBytes),
		Status:       domain.DeliveryPending,
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}, nil
}
