package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"unimarket/internal/chat"
	"unimarket/internal/store"
)

// Thread displays the active conversation's transcript plus the peer
// typing indicator.
type Thread struct {
	*tview.TextView
}

// NewThread creates the transcript view.
func NewThread() *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &Thread{TextView: tv}
}

// SetPeer updates the title with the conversation partner and listing.
func (t *Thread) SetPeer(name, listing string) {
	title := " " + sanitize(name)
	if listing != "" {
		title += " | " + sanitize(listing)
	}
	t.SetTitle(title + " ")
}

// Update repaints the transcript oldest first and pins the view to the
// newest message.
func (t *Thread) Update(msgs []chat.Message, typing []string) {
	t.Clear()

	for i := range msgs {
		m := &msgs[i]
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		if m.FromMe {
			sender = "You"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			sanitize(sender), formatWhen(m.At), deliveryMark(m), sanitize(m.Content))
		_, _ = fmt.Fprint(t, line)
	}

	if len(typing) > 0 {
		_, _ = fmt.Fprintf(t, "[::d]%s typing...[-:-:-]\n", strings.Join(typing, ", "))
	}

	t.ScrollToEnd()
}

func deliveryMark(m *chat.Message) string {
	if !m.FromMe {
		return ""
	}
	switch m.State {
	case store.StatusPending:
		return " [::d](sending)[-:-:-]"
	case store.StatusFailed:
		return " [red](failed, r retries / x discards)[-]"
	default:
		return ""
	}
}
