package operator

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/notify"
)

// fakeStore implements both operator.Store and notify.Store over plain
// maps, mirroring the fakeStore convention used by internal/inbox and
// internal/httpapi's own tests.
type fakeStore struct {
	actors    map[id.ID]*domain.Actor
	notes     map[id.ID]*domain.Note
	followers map[id.ID][]domain.Follow
	following map[id.ID][]domain.Follow

	notifications map[id.ID][]domain.Notification
	readIds       map[id.ID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:        map[id.ID]*domain.Actor{},
		notes:         map[id.ID]*domain.Note{},
		followers:     map[id.ID][]domain.Follow{},
		following:     map[id.ID][]domain.Follow{},
		notifications: map[id.ID][]domain.Notification{},
		readIds:       map[id.ID]bool{},
	}
}

func (s *fakeStore) ReadAllLocalActors() ([]domain.Actor, error) { return nil, nil }

func (s *fakeStore) ReadFollowersByAccountId(accountId id.ID) ([]domain.Follow, error) {
	return s.followers[accountId], nil
}

func (s *fakeStore) ReadFollowingByAccountId(accountId id.ID) ([]domain.Follow, error) {
	return s.following[accountId], nil
}

func (s *fakeStore) ReadActorById(actorId id.ID) (*domain.Actor, error) {
	return s.actors[actorId], nil
}

func (s *fakeStore) ReadNoteById(noteId id.ID) (*domain.Note, error) {
	return s.notes[noteId], nil
}

func (s *fakeStore) CreateNotification(n *domain.Notification) error {
	s.notifications[n.AccountId] = append(s.notifications[n.AccountId], *n)
	return nil
}

func (s *fakeStore) ReadNotificationsPage(accountId id.ID, limit int) ([]domain.Notification, error) {
	return s.notifications[accountId], nil
}

func (s *fakeStore) CountUnreadNotifications(accountId id.ID) (int, error) {
	count := 0
	for _, n := range s.notifications[accountId] {
		if !s.readIds[n.Id] {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) MarkNotificationRead(notificationId id.ID) error {
	s.readIds[notificationId] = true
	return nil
}

func (s *fakeStore) MarkAllNotificationsRead(accountId id.ID) error {
	for _, n := range s.notifications[accountId] {
		s.readIds[n.Id] = true
	}
	return nil
}

func (s *fakeStore) CreatePushSubscription(sub *domain.PushSubscription) error { return nil }
func (s *fakeStore) ReadPushSubscriptionsByAccountId(accountId id.ID) ([]domain.PushSubscription, error) {
	return nil, nil
}
func (s *fakeStore) DeletePushSubscriptionByEndpoint(endpoint string) error { return nil }

func newTestNotifyService(t *testing.T, store *fakeStore) *notify.Service {
	t.Helper()
	svc, err := notify.New(store, "", "mailto:ops@federate.example")
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}
	return svc
}

func newTestActor(username string) domain.Actor {
	return domain.Actor{Id: id.New(), Username: username, CreatedAt: time.Now()}
}

func TestNew(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)

	if m.actor.Username != "alice" {
		t.Errorf("expected actor username alice, got %q", m.actor.Username)
	}
	if m.width != 80 || m.height != 24 {
		t.Errorf("expected 80x24, got %dx%d", m.width, m.height)
	}
	if m.active != tabNotifications {
		t.Errorf("expected initial tab notifications, got %v", m.active)
	}
}

func TestUpdate_LoadedMsg(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)

	notifications := []domain.Notification{{Id: id.New(), AccountId: actor.Id, NotificationType: domain.NotificationFollow}}
	followers := []domain.Follow{{Id: id.New(), AccountId: id.New(), TargetAccountId: actor.Id}}

	next, cmd := m.Update(loadedMsg{notifications: notifications, followers: followers, unreadCount: 1})
	updated := next.(Model)

	if cmd != nil {
		t.Errorf("expected no follow-up command for a plain load")
	}
	if len(updated.notifications) != 1 || len(updated.followers) != 1 {
		t.Fatalf("expected state to be populated from loadedMsg, got %+v", updated)
	}
	if updated.unreadCount != 1 {
		t.Errorf("expected unreadCount 1, got %d", updated.unreadCount)
	}
}

func TestUpdate_LoadedMsgError(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)

	next, _ := m.Update(loadedMsg{err: errBoom})
	updated := next.(Model)

	if updated.errMsg == "" {
		t.Error("expected errMsg to be set when loadedMsg carries an error")
	}
}

func TestUpdate_WindowSizeMsg(t *testing.T) {
	store := newFakeStore()
	m := New(store, newTestNotifyService(t, store), nil, newTestActor("alice"), 80, 24)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated := next.(Model)

	if updated.width != 120 || updated.height != 40 {
		t.Errorf("expected 120x40, got %dx%d", updated.width, updated.height)
	}
}

func TestUpdate_TabSwitching(t *testing.T) {
	store := newFakeStore()
	m := New(store, newTestNotifyService(t, store), nil, newTestActor("alice"), 80, 24)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated := next.(Model)
	if updated.active != tabCompose {
		t.Errorf("expected tab to advance to compose, got %v", updated.active)
	}

	next, _ = updated.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	back := next.(Model)
	if back.active != tabNotifications {
		t.Errorf("expected shift+tab to return to notifications, got %v", back.active)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	wrapped := next.(Model)
	if wrapped.active != tabFollowing {
		t.Errorf("expected h from the first tab to wrap to following, got %v", wrapped.active)
	}
}

func TestUpdate_KeyboardNavigation(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)
	m.notifications = []domain.Notification{{Id: id.New()}, {Id: id.New()}, {Id: id.New()}}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m1 := next.(Model)
	if m1.selected != 1 {
		t.Fatalf("expected selected 1 after one down-press, got %d", m1.selected)
	}

	next, _ = m1.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m2 := next.(Model)
	if m2.selected != 0 {
		t.Fatalf("expected selected 0 after moving back up, got %d", m2.selected)
	}
}

func TestUpdate_SelectionBounds(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)
	m.notifications = []domain.Notification{{Id: id.New()}}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m1 := next.(Model)
	next, _ = m1.Update(tea.KeyMsg{Type: tea.KeyDown})
	m2 := next.(Model)
	if m2.selected != 0 {
		t.Errorf("expected selection clamped to 0 with a single item, got %d", m2.selected)
	}

	next, _ = m2.Update(tea.KeyMsg{Type: tea.KeyUp})
	m3 := next.(Model)
	if m3.selected != 0 {
		t.Errorf("expected selection clamped to 0 when already at the top, got %d", m3.selected)
	}
}

func TestUpdate_MarkRead(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	svc := newTestNotifyService(t, store)
	noteId := id.New()
	_ = svc.Create(&domain.Notification{Id: noteId, AccountId: actor.Id, NotificationType: domain.NotificationFollow})

	m := New(store, svc, nil, actor, 80, 24)
	m.notifications = store.notifications[actor.Id]

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("expected mark-read to return a reload command")
	}
	if !store.readIds[noteId] {
		t.Error("expected the selected notification to be marked read")
	}
}

func TestUpdate_MarkAllRead(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	svc := newTestNotifyService(t, store)
	_ = svc.Create(&domain.Notification{Id: id.New(), AccountId: actor.Id, NotificationType: domain.NotificationFollow})
	_ = svc.Create(&domain.Notification{Id: id.New(), AccountId: actor.Id, NotificationType: domain.NotificationLike})

	m := New(store, svc, nil, actor, 80, 24)
	m.notifications = store.notifications[actor.Id]

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("R")})
	if cmd == nil {
		t.Fatal("expected mark-all-read to return a reload command")
	}
	for _, n := range store.notifications[actor.Id] {
		if !store.readIds[n.Id] {
			t.Errorf("expected notification %s to be marked read", n.Id)
		}
	}
}

func TestView_AllTabsNonEmpty(t *testing.T) {
	store := newFakeStore()
	actor := newTestActor("alice")
	m := New(store, newTestNotifyService(t, store), nil, actor, 80, 24)

	for tb := tab(0); tb < tabCount; tb++ {
		m.active = tb
		out := m.View()
		if out == "" {
			t.Errorf("expected non-empty View() for tab %v", tb)
		}
	}
}

func TestView_EmptyNotifications(t *testing.T) {
	if got := renderNotifications(nil, 0); got == "" {
		t.Error("expected a placeholder string for an empty notification list")
	}
}

func TestView_WithNotifications(t *testing.T) {
	items := []domain.Notification{
		{Id: id.New(), NotificationType: domain.NotificationFollow, ActorUsername: "bob", CreatedAt: time.Now()},
	}
	got := renderNotifications(items, 0)
	if got == "" {
		t.Error("expected a rendered row for a non-empty notification list")
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var errBoom = sentinelErr("boom")
