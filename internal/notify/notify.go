// Package notify implements C12: recipient-scoped notifications, inserted
// transactionally alongside the mutation that triggers them, with an
// optional Web Push fan-out. Grounded on gnp-x-stegodon/domain/notification.go
// (the Notification shape and its Summary/Icon helpers, carried over into
// domain.Notification) and on original_source/src/main.rs's webpush wiring:
// an env-gated VAPID key, disabled cleanly when unset rather than failing
// startup. The push transport itself uses github.com/SherClockHolmes/
// webpush-go (listed in the retrieved pack's kaze-hk-gotosocial manifest)
// instead of hand-rolling RFC 8291/8292 aes128gcm encryption.
package notify

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

// ErrPushDisabled is returned by Subscribe when no VAPID key was configured,
// so registering a browser endpoint would be pointless.
var ErrPushDisabled = errors.New("notify: web push is not configured")

// Store is the persistence seam notify depends on, satisfied by *db.DB.
type Store interface {
	CreateNotification(n *domain.Notification) error
	ReadNotificationsPage(accountId id.ID, limit int) ([]domain.Notification, error)
	CountUnreadNotifications(accountId id.ID) (int, error)
	MarkNotificationRead(notificationId id.ID) error
	MarkAllNotificationsRead(accountId id.ID) error

	CreatePushSubscription(s *domain.PushSubscription) error
	ReadPushSubscriptionsByAccountId(accountId id.ID) ([]domain.PushSubscription, error)
	DeletePushSubscriptionByEndpoint(endpoint string) error
}

// Service wraps Store with the notification read/write operations spec.md
// §4.12 describes, plus a best-effort Web Push fan-out when a VAPID key is
// configured.
type Service struct {
	store      Store
	vapid      *vapidKeys
	subscriber string // "mailto:" contact string required by RFC 8292's VAPID sub claim
}

type vapidKeys struct {
	public  string
	private string
}

// New builds a Service. keyPath is WEBPUSH_KEY_PATH; an empty path disables
// push entirely (notifications are still stored, just never pushed).
// subscriber is the mailto: contact VAPID requires in its JWT sub claim.
func New(store Store, keyPath, subscriber string) (*Service, error) {
	s := &Service{store: store, subscriber: subscriber}
	if keyPath == "" {
		log.Printf("notify: WEBPUSH_KEY_PATH not set, web push disabled")
		return s, nil
	}
	keys, err := loadVAPIDKeys(keyPath)
	if err != nil {
		return nil, fmt.Errorf("notify: load VAPID keys: %w", err)
	}
	s.vapid = keys
	log.Printf("notify: web push enabled (public key %s...)", truncate(keys.public, 12))
	return s, nil
}

// loadVAPIDKeys reads a two-line "privateKey\npublicKey" file in the
// base64url raw format webpush.GenerateVAPIDKeys produces. Mirrors the
// original's from_pem_no_sub read-one-file-at-startup shape, adapted to
// webpush-go's raw-key format instead of a PEM EC key.
func loadVAPIDKeys(path string) (*vapidKeys, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) != 2 {
		return nil, fmt.Errorf("expected 2 non-empty lines (private key, public key), got %d", len(lines))
	}
	return &vapidKeys{private: lines[0], public: lines[1]}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Enabled reports whether push delivery is configured.
func (s *Service) Enabled() bool {
	return s.vapid != nil
}

// Create inserts a notification row and, if push is enabled, best-effort
// pushes it to every browser endpoint registered for the recipient. The
// insert is a standalone write on the Service's Store and does not join a
// caller's transaction; callers that need the notification atomic with its
// triggering mutation use internal/store's ...WithNotification methods and
// then PushNotification.
func (s *Service) Create(n *domain.Notification) error {
	if err := s.store.CreateNotification(n); err != nil {
		return fmt.Errorf("notify: create: %w", err)
	}
	if s.Enabled() {
		go s.pushAll(n)
	}
	return nil
}

// PushNotification best-effort pushes an already-persisted notification to
// every browser endpoint registered for its recipient. Exposed separately
// from Create for callers (internal/follow, internal/inbox) that insert the
// notification row themselves inside their own atomic Store write and only
// need the push side-effect Create would otherwise also perform.
func (s *Service) PushNotification(n *domain.Notification) {
	if s.Enabled() {
		go s.pushAll(n)
	}
}

// ListPage returns up to limit notifications for accountId, newest first.
func (s *Service) ListPage(accountId id.ID, limit int) ([]domain.Notification, error) {
	return s.store.ReadNotificationsPage(accountId, limit)
}

// UnreadCount returns the badge count for accountId.
func (s *Service) UnreadCount(accountId id.ID) (int, error) {
	return s.store.CountUnreadNotifications(accountId)
}

// MarkRead marks a single notification read.
func (s *Service) MarkRead(notificationId id.ID) error {
	return s.store.MarkNotificationRead(notificationId)
}

// MarkAllRead marks every unread notification for accountId read.
func (s *Service) MarkAllRead(accountId id.ID) error {
	return s.store.MarkAllNotificationsRead(accountId)
}

// Subscribe registers a browser's push endpoint for accountId.
func (s *Service) Subscribe(accountId id.ID, endpoint, p256dh, auth string) error {
	if !s.Enabled() {
		return ErrPushDisabled
	}
	sub := &domain.PushSubscription{
		Id:        id.New(),
		AccountId: accountId,
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   auth,
		CreatedAt: time.Now(),
	}
	return s.store.CreatePushSubscription(sub)
}

// Unsubscribe drops a registered endpoint.
func (s *Service) Unsubscribe(endpoint string) error {
	return s.store.DeletePushSubscriptionByEndpoint(endpoint)
}

type pushPayload struct {
	Type    string `json:"type"`
	Actor   string `json:"actor"`
	Summary string `json:"summary"`
}

// pushAll fans a notification out to every subscription registered for its
// recipient. Runs off the triggering request's goroutine: a slow or
// unreachable push endpoint must never hold up the mutation that created
// the notification.
func (s *Service) pushAll(n *domain.Notification) {
	subs, err := s.store.ReadPushSubscriptionsByAccountId(n.AccountId)
	if err != nil {
		log.Printf("notify: push fan-out: read subscriptions for %s: %v", n.AccountId, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(pushPayload{
		Type:    string(n.NotificationType),
		Actor:   n.ActorHandle(),
		Summary: n.Summary(),
	})
	if err != nil {
		log.Printf("notify: push fan-out: marshal payload: %v", err)
		return
	}
	for _, sub := range subs {
		s.pushOne(sub, payload)
	}
}

func (s *Service) pushOne(sub domain.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.vapid.public,
		VAPIDPrivateKey: s.vapid.private,
		TTL:             30,
	})
	if err != nil {
		log.Printf("notify: push to %s failed: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 || resp.StatusCode == 410 {
		if err := s.store.DeletePushSubscriptionByEndpoint(sub.Endpoint); err != nil {
			log.Printf("notify: drop dead subscription %s: %v", sub.Endpoint, err)
		}
	}
}
