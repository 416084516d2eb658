package notify

import (
	"os"
	"testing"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
)

type fakeStore struct {
	notifications []domain.Notification
	subsByAccount map[id.ID][]domain.PushSubscription
}

func newFakeStore() *fakeStore {
	return &fakeStore{subsByAccount: make(map[id.ID][]domain.PushSubscription)}
}

func (f *fakeStore) CreateNotification(n *domain.Notification) error {
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeStore) ReadNotificationsPage(accountId id.ID, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for i := len(f.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if f.notifications[i].AccountId == accountId {
			out = append(out, f.notifications[i])
		}
	}
	return out, nil
}

func (f *fakeStore) CountUnreadNotifications(accountId id.ID) (int, error) {
	count := 0
	for _, n := range f.notifications {
		if n.AccountId == accountId && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MarkNotificationRead(notificationId id.ID) error {
	now := time.Now()
	for i := range f.notifications {
		if f.notifications[i].Id == notificationId {
			f.notifications[i].ReadAt = &now
			return nil
		}
	}
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(accountId id.ID) error {
	now := time.Now()
	for i := range f.notifications {
		if f.notifications[i].AccountId == accountId {
			f.notifications[i].ReadAt = &now
		}
	}
	return nil
}

func (f *fakeStore) CreatePushSubscription(s *domain.PushSubscription) error {
	f.subsByAccount[s.AccountId] = append(f.subsByAccount[s.AccountId], *s)
	return nil
}

func (f *fakeStore) ReadPushSubscriptionsByAccountId(accountId id.ID) ([]domain.PushSubscription, error) {
	return f.subsByAccount[accountId], nil
}

func (f *fakeStore) DeletePushSubscriptionByEndpoint(endpoint string) error {
	for acc, subs := range f.subsByAccount {
		var kept []domain.PushSubscription
		for _, s := range subs {
			if s.Endpoint != endpoint {
				kept = append(kept, s)
			}
		}
		f.subsByAccount[acc] = kept
	}
	return nil
}

func TestNewWithoutKeyPathDisablesPush(t *testing.T) {
	svc, err := New(newFakeStore(), "", "mailto:admin@example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("expected push disabled when keyPath is empty")
	}
}

func TestSubscribeFailsWhenPushDisabled(t *testing.T) {
	svc, _ := New(newFakeStore(), "", "mailto:admin@example.com")
	err := svc.Subscribe(id.New(), "https://push.example/ep", "p256dh", "auth")
	if err != ErrPushDisabled {
		t.Fatalf("expected ErrPushDisabled, got %v", err)
	}
}

func TestCreateStoresNotificationRegardlessOfPushState(t *testing.T) {
	store := newFakeStore()
	svc, _ := New(store, "", "mailto:admin@example.com")
	accountId := id.New()
	n := &domain.Notification{
		Id:               id.New(),
		AccountId:        accountId,
		NotificationType: domain.NotificationFollow,
		ActorUsername:    "alice",
		CreatedAt:        time.Now(),
	}
	if err := svc.Create(n); err != nil {
		t.Fatalf("Create: %v", err)
	}
	unread, err := svc.UnreadCount(accountId)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	store := newFakeStore()
	svc, _ := New(store, "", "mailto:admin@example.com")
	accountId := id.New()
	n1 := &domain.Notification{Id: id.New(), AccountId: accountId, NotificationType: domain.NotificationLike, CreatedAt: time.Now()}
	n2 := &domain.Notification{Id: id.New(), AccountId: accountId, NotificationType: domain.NotificationMention, CreatedAt: time.Now()}
	svc.Create(n1)
	svc.Create(n2)

	if err := svc.MarkRead(n1.Id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, _ := svc.UnreadCount(accountId)
	if unread != 1 {
		t.Fatalf("expected 1 unread after marking one read, got %d", unread)
	}

	if err := svc.MarkAllRead(accountId); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	unread, _ = svc.UnreadCount(accountId)
	if unread != 0 {
		t.Fatalf("expected 0 unread after mark-all, got %d", unread)
	}
}

func TestListPageOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	store := newFakeStore()
	svc, _ := New(store, "", "mailto:admin@example.com")
	accountId := id.New()
	for i := 0; i < 5; i++ {
		svc.Create(&domain.Notification{Id: id.New(), AccountId: accountId, NotificationType: domain.NotificationReply, CreatedAt: time.Now()})
	}
	page, err := svc.ListPage(accountId, 3)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(page))
	}
}

func TestLoadVAPIDKeysRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vapid.txt"
	if err := writeFile(path, "only-one-line\n"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, err := loadVAPIDKeys(path); err == nil {
		t.Fatal("expected error for malformed VAPID key file")
	}
}

func TestLoadVAPIDKeysParsesTwoLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vapid.txt"
	if err := writeFile(path, "privkey123\npubkey456\n"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	keys, err := loadVAPIDKeys(path)
	if err != nil {
		t.Fatalf("loadVAPIDKeys: %v", err)
	}
	if keys.private != "privkey123" || keys.public != "pubkey456" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
