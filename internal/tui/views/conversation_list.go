package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"unimarket/internal/chat"
)

// ConversationList renders the recency-ordered conversation table.
type ConversationList struct {
	*tview.Table
	rows []chat.Summary
}

// NewConversationList creates the conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table}
}

// Update repaints the table from a fresh snapshot.
func (cl *ConversationList) Update(rows []chat.Summary) {
	selected, _ := cl.GetSelection()
	cl.rows = rows
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Contact").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Listing").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, sum := range rows {
		row := i + 1
		name := sum.PeerName
		if name == "" {
			name = sum.PeerID
		}
		if sum.Unread > 0 {
			name = fmt.Sprintf("* %s (%d)", name, sum.Unread)
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+sanitize(name)).SetMaxWidth(24).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+sanitize(sum.ListingTitle)).SetMaxWidth(24).SetExpansion(1))
		cl.SetCell(row, 2, tview.NewTableCell(" "+sanitize(sum.LastMessage)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatWhen(sum.LastMessageAt)).SetMaxWidth(12))
	}

	if selected > 0 && selected <= len(rows) {
		cl.Select(selected, 0)
	}
}

// SelectedConversation returns the id behind the highlighted row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.rows) {
		return cl.rows[idx].ID
	}
	return ""
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
