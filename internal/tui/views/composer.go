package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input line. Besides submitting on Enter it
// reports every edit, which drives the outgoing typing indicator.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onEdit func()
}

// NewComposer creates the composer input.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if text != "" && c.onEdit != nil {
			c.onEdit()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.onSend != nil {
			text := c.GetText()
			if text != "" {
				c.onSend(text)
				c.SetText("")
			}
		}
	})

	return c
}

// SetOnSend sets the Enter callback.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnEdit sets the keystroke callback.
func (c *Composer) SetOnEdit(fn func()) {
	c.onEdit = fn
}
