package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"unimarket/internal/status"
)

// StatusBar shows the profile, connection state, total unread count and
// any transient notice on the bottom line.
type StatusBar struct {
	*tview.TextView
	profile string
	conn    status.State
	unread  int
	flash   string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv, conn: status.Disconnected}
}

// SetProfile sets the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnection updates the connection state display.
func (sb *StatusBar) SetConnection(s status.State) {
	sb.conn = s
	sb.render()
}

// SetUnread updates the aggregate unread counter.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetFlash sets a transient notice, or clears it with "".
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	conn := string(sb.conn)
	switch sb.conn {
	case status.Connected:
		conn = "[green]" + conn + "[-]"
	case status.Reconnecting, status.Connecting:
		conn = "[yellow]" + conn + "[-]"
	default:
		conn = "[red]" + conn + "[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", sb.profile, conn)
	if sb.unread > 0 {
		line += fmt.Sprintf(" | [::b]%d unread[-:-:-]", sb.unread)
	}
	line += " | " + time.Now().Format("15:04")
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
