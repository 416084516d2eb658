package operator

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/note"
	"github.com/deemkeen/stegodon-federate/internal/notify"
)

// Store is the read surface the operator console needs from
// internal/store, beyond internal/notify.Service's and internal/note's own
// Store dependencies.
type Store interface {
	ReadAllLocalActors() ([]domain.Actor, error)
	ReadFollowersByAccountId(accountId id.ID) ([]domain.Follow, error)
	ReadFollowingByAccountId(accountId id.ID) ([]domain.Follow, error)
	ReadActorById(actorId id.ID) (*domain.Actor, error)
	ReadNoteById(noteId id.ID) (*domain.Note, error)
}

// composeCharLimit mirrors gnp-x-stegodon/ui/writenote.Model's textarea
// CharLimit, raised from the teacher's fixed 1000 to a fixed 5000; it is not
// derived from the configured note content limit (MaxNoteContentBytes,
// 50000 by default).
const composeCharLimit = 5000

type tab int

const (
	tabNotifications tab = iota
	tabCompose
	tabFollowers
	tabFollowing
	tabCount
)

func (t tab) String() string {
	switch t {
	case tabNotifications:
		return "notifications"
	case tabCompose:
		return "compose"
	case tabFollowers:
		return "followers"
	case tabFollowing:
		return "following"
	default:
		return "?"
	}
}

// Model is the top-level bubbletea model for one operator session, scoped
// to a single local actor picked at connect time.
type Model struct {
	store  Store
	notify *notify.Service
	notes  *note.Manager

	width, height int
	actor         domain.Actor

	active   tab
	composer textarea.Model

	notifications []domain.Notification
	followers     []domain.Follow
	following     []domain.Follow
	unreadCount   int
	selected      int
	errMsg        string
	composeStatus string
}

// New builds the console Model for actor, scoped to width x height (the
// SSH pty dimensions). notes may be nil, in which case the compose tab
// reports posting as unavailable instead of panicking.
func New(store Store, notifySvc *notify.Service, notes *note.Manager, actor domain.Actor, width, height int) Model {
	ti := textarea.New()
	ti.Placeholder = "what's on your mind?"
	ti.CharLimit = composeCharLimit
	ti.ShowLineNumbers = false
	ti.SetWidth(60)
	ti.Cursor.SetMode(cursor.CursorBlink)

	return Model{store: store, notify: notifySvc, notes: notes, actor: actor, width: width, height: height, composer: ti}
}

type loadedMsg struct {
	notifications []domain.Notification
	followers     []domain.Follow
	following     []domain.Follow
	unreadCount   int
	err           error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load, textarea.Blink)
}

// postedMsg reports the outcome of a compose/renote/like action submitted
// through internal/note.Manager.
type postedMsg struct {
	err error
}

func (m Model) load() tea.Msg {
	notifications, err := m.notify.ListPage(m.actor.Id, 50)
	if err != nil {
		return loadedMsg{err: err}
	}
	unread, err := m.notify.UnreadCount(m.actor.Id)
	if err != nil {
		return loadedMsg{err: err}
	}
	followers, err := m.store.ReadFollowersByAccountId(m.actor.Id)
	if err != nil {
		return loadedMsg{err: err}
	}
	following, err := m.store.ReadFollowingByAccountId(m.actor.Id)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{notifications: notifications, followers: followers, following: following, unreadCount: unread}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.notifications = msg.notifications
		m.followers = msg.followers
		m.following = msg.following
		m.unreadCount = msg.unreadCount
		return m, nil

	case postedMsg:
		if msg.err != nil {
			m.composeStatus = msg.err.Error()
		} else {
			m.composeStatus = "posted"
		}
		return m, m.load

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.active == tabCompose {
			return m.updateCompose(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab", "right", "l":
			m.active = (m.active + 1) % tabCount
			m.selected = 0
			if m.active == tabCompose {
				return m, m.composer.Focus()
			}
		case "shift+tab", "left", "h":
			m.active = (m.active - 1 + tabCount) % tabCount
			m.selected = 0
			if m.active == tabCompose {
				return m, m.composer.Focus()
			}
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < m.currentLen()-1 {
				m.selected++
			}
		case "r":
			if m.active == tabNotifications && len(m.notifications) > 0 && m.selected < len(m.notifications) {
				n := m.notifications[m.selected]
				_ = m.notify.MarkRead(n.Id)
				return m, m.load
			}
		case "R":
			if m.active == tabNotifications {
				_ = m.notify.MarkAllRead(m.actor.Id)
				return m, m.load
			}
		case "b":
			if m.active == tabNotifications && m.selected < len(m.notifications) {
				return m, m.renoteSelected()
			}
		case "f":
			if m.active == tabNotifications && m.selected < len(m.notifications) {
				return m, m.likeSelected()
			}
		}
	}
	return m, nil
}

// updateCompose routes keystrokes to the compose textarea while the compose
// tab is active, mirroring gnp-x-stegodon/ui/writenote.Model.Update's
// ctrl+s-to-submit pattern trimmed of its markdown-link and edit-mode
// handling - this console only ever composes a brand new top-level note.
func (m Model) updateCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyTab:
		m.composer.Blur()
		m.active = (m.active + 1) % tabCount
		return m, nil
	case tea.KeyShiftTab:
		m.composer.Blur()
		m.active = (m.active - 1 + tabCount) % tabCount
		return m, nil
	case tea.KeyCtrlS:
		content := strings.TrimSpace(m.composer.Value())
		if content == "" {
			m.composeStatus = "cannot post an empty note"
			return m, nil
		}
		m.composer.SetValue("")
		m.composeStatus = "posting..."
		return m, m.submitPost(content)
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// submitPost posts content as a new Public top-level note for the
// console's scoped actor via internal/note.Manager, exercising C9/C10's
// outbound Create path.
func (m Model) submitPost(content string) tea.Cmd {
	actor := m.actor
	return func() tea.Msg {
		if m.notes == nil {
			return postedMsg{err: fmt.Errorf("posting is not available")}
		}
		_, err := m.notes.CreateNote(context.Background(), &actor, content, domain.ContentPlain, domain.Public, nil, nil, false)
		return postedMsg{err: err}
	}
}

// renoteSelected boosts the note the selected notification refers to,
// exercising S3's renote(L, T, v) through a real interactive path.
func (m Model) renoteSelected() tea.Cmd {
	actor := m.actor
	n := m.notifications[m.selected]
	return func() tea.Msg {
		if m.notes == nil {
			return postedMsg{err: fmt.Errorf("posting is not available")}
		}
		if n.NoteId == (id.ID{}) {
			return postedMsg{err: fmt.Errorf("this notification has no associated note")}
		}
		target, err := m.store.ReadNoteById(n.NoteId)
		if err != nil || target == nil {
			return postedMsg{err: fmt.Errorf("note not found")}
		}
		_, err = m.notes.Renote(context.Background(), &actor, target, domain.Public)
		return postedMsg{err: err}
	}
}

// likeSelected favorites the note the selected notification refers to.
func (m Model) likeSelected() tea.Cmd {
	actor := m.actor
	n := m.notifications[m.selected]
	return func() tea.Msg {
		if m.notes == nil {
			return postedMsg{err: fmt.Errorf("posting is not available")}
		}
		if n.NoteId == (id.ID{}) {
			return postedMsg{err: fmt.Errorf("this notification has no associated note")}
		}
		target, err := m.store.ReadNoteById(n.NoteId)
		if err != nil || target == nil {
			return postedMsg{err: fmt.Errorf("note not found")}
		}
		_, err = m.notes.Like(context.Background(), &actor, target, false)
		return postedMsg{err: err}
	}
}

func (m Model) currentLen() int {
	switch m.active {
	case tabNotifications:
		return len(m.notifications)
	case tabFollowers:
		return len(m.followers)
	case tabFollowing:
		return len(m.following)
	default:
		return 0
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(captionStyle.Render(fmt.Sprintf("stegodon-federate operator console — @%s", m.actor.Username)))
	b.WriteString("\n\n")

	for t := tab(0); t < tabCount; t++ {
		label := t.String()
		if t == tabNotifications && m.unreadCount > 0 {
			label = fmt.Sprintf("%s (%d)", label, m.unreadCount)
		}
		style := tabInactive
		if t == m.active {
			style = tabActive
		}
		b.WriteString(style.Render(" " + label + " "))
	}
	b.WriteString("\n\n")

	if m.errMsg != "" {
		b.WriteString(emptyStyle.Render("error: " + m.errMsg))
		b.WriteString("\n")
	}

	switch m.active {
	case tabNotifications:
		b.WriteString(renderNotifications(m.notifications, m.selected))
	case tabCompose:
		b.WriteString(m.renderCompose())
	case tabFollowers:
		b.WriteString(renderFollows(m.followers, m.selected, m.store, false))
	case tabFollowing:
		b.WriteString(renderFollows(m.following, m.selected, m.store, true))
	}

	b.WriteString("\n\n")
	if m.active == tabCompose {
		b.WriteString(helpStyle.Render("tab: switch  ctrl+s: post  q unavailable while typing — ctrl+c: quit"))
	} else {
		b.WriteString(helpStyle.Render("tab: switch  ↑/↓: select  r: mark read  R: mark all read  b: renote  f: like  q: quit"))
	}
	return b.String()
}

// renderCompose draws the compose textarea plus the outcome of the last
// submitted post, grounded on gnp-x-stegodon/ui/writenote.Model.View.
func (m Model) renderCompose() string {
	var b strings.Builder
	b.WriteString(m.composer.View())
	b.WriteString("\n")
	if m.composeStatus != "" {
		b.WriteString(emptyStyle.Render(m.composeStatus))
	}
	return b.String()
}

func renderNotifications(items []domain.Notification, selected int) string {
	if len(items) == 0 {
		return emptyStyle.Render("no notifications")
	}
	var b strings.Builder
	for i, n := range items {
		line := fmt.Sprintf("[%s] %s @%s — %s", n.CreatedAt.Format("01-02 15:04"), n.NotificationType, n.ActorUsername, n.NotePreview)
		if !n.IsRead() {
			line = "● " + line
		} else {
			line = "  " + line
		}
		if i == selected {
			b.WriteString(selectedRow.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderFollows lists a follow edge set. following selects which side of
// the edge names the peer to display: the target account for a "following"
// list, the origin account for a "followers" list.
func renderFollows(items []domain.Follow, selected int, store Store, following bool) string {
	if len(items) == 0 {
		return emptyStyle.Render("none yet")
	}
	var b strings.Builder
	for i, f := range items {
		peerId := f.AccountId
		if following {
			peerId = f.TargetAccountId
		}
		handle := f.URI
		if a, err := store.ReadActorById(peerId); err == nil && a != nil {
			handle = a.Handle()
		}
		status := "accepted"
		if f.Pending {
			status = "pending"
		}
		line := fmt.Sprintf("%s (%s, since %s)", handle, status, f.CreatedAt.Format("2006-01-02"))
		if i == selected {
			b.WriteString(selectedRow.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
