package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays session name, connection state and transient
// notifications.
type StatusBar struct {
	*tview.TextView
	session string
	status  string
	flash   string
	hints   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetStatus updates the connection state display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetHints updates the key-binding hints for the current page.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	state := sb.status
	switch sb.status {
	case "OPEN":
		state = "[green]" + sb.status + "[-]"
	case "RECONNECTING", "DEGRADED":
		state = "[yellow]" + sb.status + "[-]"
	case "CLOSED", "ERROR":
		state = "[red]" + sb.status + "[-]"
	}

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session, state, clock)
	if sb.hints != "" {
		line += fmt.Sprintf(" | [gray]%s[-]", sb.hints)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
