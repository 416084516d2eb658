package operator

import (
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/note"
	"github.com/deemkeen/stegodon-federate/internal/notify"
	"github.com/muesli/termenv"
)

// Middleware builds the wish.Middleware that starts the operator console
// TUI on connect, grounded on Demigodrick-stegodon/middleware/maintui.go's
// bm.MiddlewareWithProgramHandler wiring - trimmed of its CLI-command and
// account-registration branches, since the federation core has exactly the
// set of local actors provisioned out of band (no SSH signup flow). notes
// may be nil, in which case the console's compose/renote/like actions are
// disabled rather than wired to a posting service.
func Middleware(store Store, notifySvc *notify.Service, notes *note.Manager) wish.Middleware {
	teaHandler := func(s ssh.Session) *tea.Program {
		pty, _, active := s.Pty()
		if !active {
			wish.Println(s, "no active terminal, skipping")
			return nil
		}

		actor, err := pickActor(store, s)
		if err != nil {
			wish.Println(s, fmt.Sprintf("no local actor available: %v", err))
			return nil
		}

		lipgloss.SetColorProfile(termenv.ANSI256)

		m := New(store, notifySvc, notes, *actor, pty.Window.Width, pty.Window.Height)
		return tea.NewProgram(m, tea.WithFPS(60), tea.WithInput(s), tea.WithOutput(s), tea.WithAltScreen())
	}
	return bm.MiddlewareWithProgramHandler(teaHandler, termenv.ANSI256)
}

// pickActor resolves the local actor a connecting operator session views.
// Single-actor deployments (the common case) need no selection; a
// multi-actor deployment picks the first local actor by creation order
// until a future session-to-account mapping exists.
func pickActor(store Store, s ssh.Session) (*domain.Actor, error) {
	actors, err := store.ReadAllLocalActors()
	if err != nil {
		return nil, err
	}
	if len(actors) == 0 {
		return nil, fmt.Errorf("no local actors provisioned")
	}
	log.Printf("operator console: session from %s viewing @%s", s.RemoteAddr(), actors[0].Username)
	return &actors[0], nil
}
