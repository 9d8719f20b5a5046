package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	engine "github.com/Voloshynivskyi/UniMessenger-sub000/internal/app"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/outbox"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/status"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/tui/keys"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/tui/model"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/tui/views"
)

// App is the main TUI application shell. All state lives in the engine;
// the shell renders bus events and translates input into engine calls.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	eng       *engine.Engine
	registry  *keys.Registry
	statusBar *views.StatusBar
	chatList  *views.ChatList
	thread    *views.Thread
	composer  *views.Composer
	flash     model.Flash

	active     store.ChatKey
	editing    string
	lastTyping time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(eng *engine.Engine) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		eng:       eng,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		thread:    views.NewThread(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(eng.Session)
	a.statusBar.SetStatus(string(eng.Machine.Current()))
	a.setupBindings()
	a.statusBar.SetHints(strings.Join(a.registry.Hints("chats"), " "))
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.refreshDialogs() },
	})
	a.registry.AddView("chat", "edit", &keys.Action{
		Rune: 'e', Key: tcell.KeyRune,
		Description: "e:edit", Visible: true,
		Handler: func() { a.editSelected() },
	})
	a.registry.AddView("chat", "delete", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:delete", Visible: true,
		Handler: func() { a.deleteSelected() },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if key, ok := a.chatList.SelectedChat(); ok {
			a.openChat(key)
		}
	})

	a.thread.SetSelectionChangedFunc(func(row, col int) {
		if a.active == "" {
			return
		}
		vs := a.thread.ViewState()
		a.eng.Scroll.HandleScroll(a.ctx, a.active, vs)
	})

	a.composer.SetChangedFunc(func(text string) {
		a.notifyTyping(text != "")
	})

	a.composer.SetOnSend(func(text string) {
		key := a.active
		if key == "" {
			return
		}
		msgID := a.editing
		if msgID != "" {
			a.editing = ""
			a.composer.SetLabel(" > ")
		}
		go func() {
			var err error
			if msgID != "" {
				// The edited frame echoes back on the push channel.
				err = a.eng.Rest.EditText(a.ctx, key, msgID, text)
			} else {
				err = a.eng.Sender.Send(a.ctx, key, text)
			}
			if err != nil {
				a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.flash.Get())
				})
			}
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("chats", a.chatList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "chat" {
			a.closeChat()
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openChat(key store.ChatKey) {
	a.active = key
	title := a.chatList.Title(key)
	if title == "" {
		title = string(key)
	}
	a.thread.SetChatName(title)
	a.thread.Update(a.eng.Store.Messages(key))
	a.thread.ScrollToBottom()
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.thread)
	a.statusBar.SetHints(strings.Join(a.registry.Hints("chat"), " "))

	go func() {
		if err := a.eng.Store.FetchInitial(a.ctx, key); err != nil {
			a.flash.Set("Load failed: "+err.Error(), 5*time.Second)
		}
		// The unread badge clears when the read receipt comes back.
		_ = a.eng.Rest.MarkRead(a.ctx, key)
	}()
}

func (a *App) closeChat() {
	key := a.active
	a.active = ""
	a.editing = ""
	a.composer.SetLabel(" > ")
	a.composer.SetText("")
	a.pages.SwitchToPage("chats")
	a.app.SetFocus(a.chatList)
	a.statusBar.SetHints(strings.Join(a.registry.Hints("chats"), " "))
	if key != "" {
		a.eng.Store.Clear(key)
	}
}

// notifyTyping tells the backend the user is composing, throttled to one
// frame every few seconds. Fire and forget; a down push channel just
// means nobody sees the indicator.
func (a *App) notifyTyping(active bool) {
	key := a.active
	if key == "" {
		return
	}
	action := push.ActionTypingStop
	if active {
		if time.Since(a.lastTyping) < 3*time.Second {
			return
		}
		a.lastTyping = time.Now()
		action = push.ActionTypingStart
	}
	platform, account, chat, err := key.Parts()
	if err != nil {
		return
	}
	conn := a.eng.Registry.Ensure(a.eng.Session)
	go func() {
		_ = conn.Send(a.ctx, action, map[string]string{
			"platform":   platform,
			"account_id": account,
			"chat_id":    chat,
		})
	}()
}

func (a *App) editSelected() {
	if a.active == "" {
		return
	}
	msg, ok := a.thread.SelectedMessage()
	if !ok || msg.Direction != store.Outgoing || msg.MsgID == "" {
		return
	}
	a.editing = msg.MsgID
	a.composer.SetLabel(" edit> ")
	a.composer.SetText(msg.Text)
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) deleteSelected() {
	key := a.active
	if key == "" {
		return
	}
	msg, ok := a.thread.SelectedMessage()
	if !ok || msg.Direction != store.Outgoing || msg.MsgID == "" {
		return
	}
	go func() {
		if err := a.eng.Rest.DeleteMessage(a.ctx, key, msg.MsgID); err != nil {
			a.flash.Set("Delete failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		}
		// The row disappears when the deletion frame echoes back.
	}()
}

func (a *App) refreshDialogs() {
	go func() {
		if err := a.eng.Dialogs.Refresh(a.ctx); err != nil {
			a.flash.Set("Refresh failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		}
	}()
}

// Run starts the TUI application and the bus render loop.
func (a *App) Run() error {
	ch, unsub := a.eng.Bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.chatList.Update(a.eng.Dialogs.Previews())
	err := a.app.Run()
	a.cancel()
	return err
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindStoreUpdated:
		key, ok := evt.Payload.(store.ChatKey)
		if !ok || key != a.active {
			return
		}
		a.app.QueueUpdateDraw(func() { a.redrawThread(key) })
	case bus.KindDialogUpdated:
		a.app.QueueUpdateDraw(func() {
			a.chatList.Update(a.eng.Dialogs.Previews())
		})
	case bus.KindStatusChanged:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetStatus(string(change.To))
		})
	case bus.KindSendFailed:
		fail, ok := evt.Payload.(outbox.SendFailure)
		if !ok {
			return
		}
		a.flash.Set("Send failed: "+fail.Err.Error(), 5*time.Second)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash(a.flash.Get())
		})
	}
}

// redrawThread re-renders the active chat. When the viewport sat at the
// newest message it stays pinned there; otherwise the previously topmost
// message is restored so a prepended page does not shift the view.
func (a *App) redrawThread(key store.ChatKey) {
	before := a.thread.ViewState()
	nearBottom := a.eng.Scroll.NearBottom(before)
	anchor, hasAnchor := a.eng.Scroll.CaptureAnchor(before)

	a.thread.Update(a.eng.Store.Messages(key))

	if nearBottom {
		a.thread.ScrollToBottom()
		return
	}
	if hasAnchor {
		after := a.thread.ViewState()
		a.thread.SetOffset(a.eng.Scroll.RestoreAnchor(after, anchor), 0)
		a.thread.SelectMessage(anchor.ID)
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
