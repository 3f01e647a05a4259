// Package tui renders the terminal interface: the conversation list, the
// active thread with its composer, and a status bar. All state lives in
// the chat controller and list store; the UI repaints from snapshots
// whenever the refresh signal fires.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"unimarket/internal/bus"
	"unimarket/internal/chat"
	"unimarket/internal/outbox"
	"unimarket/internal/status"
	"unimarket/internal/store"
	"unimarket/internal/tui/keys"
	"unimarket/internal/tui/views"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
)

// App is the terminal application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	ctrl     *chat.Controller
	list     *chat.ListStore
	machine  *status.Machine
	bus      *bus.Bus
	bindings *keys.Map
	flash    flash

	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.Thread
	composer  *views.Composer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp wires the terminal UI around an already running controller.
func NewApp(ctrl *chat.Controller, list *chat.ListStore, machine *status.Machine, b *bus.Bus, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		ctrl:      ctrl,
		list:      list,
		machine:   machine,
		bus:       b,
		bindings:  keys.NewMap(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		thread:    views.NewThread(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profile)
	a.statusBar.SetConnection(machine.Current())
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.bindings.Global(keys.Binding{
		Key: tcell.KeyRune, Rune: 'q', Help: "q:quit",
		Do: func() { a.app.Stop() },
	})
	a.bindings.Page(pageConversations, keys.Binding{
		Key: tcell.KeyRune, Rune: 'R', Help: "R:refresh",
		Do: func() { a.reloadList() },
	})
	a.bindings.Page(pageThread, keys.Binding{
		Key: tcell.KeyRune, Rune: 'r', Help: "r:retry failed",
		Do: func() { a.retryLastFailed() },
	})
	a.bindings.Page(pageThread, keys.Binding{
		Key: tcell.KeyRune, Rune: 'x', Help: "x:discard failed",
		Do: func() { a.discardLastFailed() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		if _, err := a.ctrl.Send(text); err != nil {
			a.flash.set("Send failed: "+err.Error(), 5*time.Second)
		}
	})
	a.composer.SetOnEdit(func() {
		a.ctrl.InputActivity()
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageConversations, a.convList, true, true)
	a.pages.AddPage(pageThread, threadFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == pageThread {
			a.closeConversation()
			return nil
		}

		// Text input gets every other key untouched.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if currentPage == pageThread && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.bindings.Dispatch(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openConversation(id string) {
	go func() {
		if err := a.ctrl.Select(a.ctx, id); err != nil {
			a.flash.set("Load failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(a.redraw)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.redraw()
			a.pages.SwitchToPage(pageThread)
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) closeConversation() {
	a.ctrl.Close()
	a.pages.SwitchToPage(pageConversations)
	a.app.SetFocus(a.convList)
	a.redraw()
}

func (a *App) reloadList() {
	go func() {
		if err := a.ctrl.RefreshList(a.ctx); err != nil {
			a.flash.set("Refresh failed: "+err.Error(), 5*time.Second)
		}
		a.app.QueueUpdateDraw(a.redraw)
	}()
}

func (a *App) retryLastFailed() {
	if id := a.lastFailedID(); id != "" {
		if err := a.ctrl.Retry(id); err != nil {
			a.flash.set("Retry failed: "+err.Error(), 5*time.Second)
		}
	}
}

func (a *App) discardLastFailed() {
	if id := a.lastFailedID(); id != "" {
		a.ctrl.Discard(id)
	}
}

func (a *App) lastFailedID() string {
	msgs := a.ctrl.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].FromMe && msgs[i].State == store.StatusFailed {
			return msgs[i].ID
		}
	}
	return ""
}

// redraw repaints every view from current snapshots. Runs on the tview
// event loop.
func (a *App) redraw() {
	a.convList.Update(a.list.Snapshot())

	if active := a.ctrl.ActiveID(); active != "" {
		var typing []string
		sum, ok := a.list.Get(active)
		if ok {
			a.thread.SetPeer(sum.PeerName, sum.ListingTitle)
		}
		for _, id := range a.ctrl.TypingPeers() {
			name := id
			if ok && id == sum.PeerID && sum.PeerName != "" {
				name = sum.PeerName
			}
			typing = append(typing, name)
		}
		a.thread.Update(a.ctrl.Messages(), typing)
	}

	a.statusBar.SetConnection(a.machine.Current())
	a.statusBar.SetUnread(a.list.TotalUnread())
	a.statusBar.SetFlash(a.flash.get())
}

// Run starts the terminal application and blocks until quit.
func (a *App) Run() error {
	statusEvents, unsubStatus := a.bus.Subscribe("channel.status_changed", 16)
	failures, unsubFailures := a.bus.Subscribe("message.send_failed", 16)

	go func() {
		defer unsubStatus()
		defer unsubFailures()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-a.ctrl.RefreshSignal():
				a.app.QueueUpdateDraw(a.redraw)
			case <-statusEvents:
				a.app.QueueUpdateDraw(a.redraw)
			case evt := <-failures:
				if f, ok := evt.Payload.(outbox.SendFailure); ok {
					a.flash.set("Send failed: "+f.Reason, 5*time.Second)
				}
				a.app.QueueUpdateDraw(a.redraw)
			case <-ticker.C:
				// Keep the clock and flash expiry moving.
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.flash.get())
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.reloadList()
	return a.app.Run()
}

// Stop shuts the terminal application down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
