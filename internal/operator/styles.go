// Package operator implements the SSH operator console: a bubbletea TUI
// over a local actor's notifications, a compose tab, followers and
// following, the sole consumer of internal/notify.Service's read APIs.
// Besides reading, it marks notifications read and, through
// internal/note.Manager, posts new notes and renotes or likes the note
// behind a notification. Grounded on gnp-x-stegodon/ui/supertui.go's
// tab-switching shell and ui/notifications, ui/followers, ui/following's
// list-model shape; there is no account registration and no
// admin/relay/ban tooling.
package operator

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = "69"
	colorMuted  = "245"
	colorDim    = "240"
	colorCaption = "170"
)

var (
	captionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorCaption)).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)).Italic(true)
	tabActive    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)).Bold(true).Underline(true)
	tabInactive  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	selectedRow  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)).Bold(true)
)
