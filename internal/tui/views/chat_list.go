package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/dialogs"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"github.com/rivo/tview"
)

// ChatList is the unified dialog list (K9s-inspired table).
type ChatList struct {
	*tview.Table
	previews   []dialogs.Preview
	selectedFn func() (int, int)
}

// NewChatList creates a new chat list table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Chats ")

	cl := &ChatList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the chat list with new data.
func (cl *ChatList) Update(previews []dialogs.Preview) {
	cl.previews = previews
	cl.Clear()

	// Header row.
	cl.SetCell(0, 0, tview.NewTableCell(" Chat").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, p := range previews {
		row := i + 1
		name := p.Title
		if p.Pinned {
			name = "^ " + name
		}
		if p.Online {
			name += " [green]•[-]"
		}
		if p.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, p.UnreadCount)
		}

		last := sanitizeForTerminal(p.LastText)
		if len(p.Typing) > 0 {
			last = fmt.Sprintf("[green]%s typing...[-]", strings.Join(p.Typing, ", "))
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(name)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+last).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(p.LastDate)).SetMaxWidth(12))
	}
}

// SelectedChat returns the key of the currently selected chat.
func (cl *ChatList) SelectedChat() (store.ChatKey, bool) {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.previews) {
		return cl.previews[idx].Chat, true
	}
	return "", false
}

// Title returns the display title for a chat key, if listed.
func (cl *ChatList) Title(key store.ChatKey) string {
	for _, p := range cl.previews {
		if p.Chat == key {
			return p.Title
		}
	}
	return ""
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
