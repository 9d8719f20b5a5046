package views

import (
	"fmt"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/scroll"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"github.com/rivo/tview"
)

// Thread displays the message list for one chat, one table row per
// message so scroll positions map directly onto message IDs.
type Thread struct {
	*tview.Table
	msgs []store.Message
}

// NewThread creates a new message thread view.
func NewThread() *Thread {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Messages ")
	return &Thread{Table: table}
}

// SetChatName updates the title with the chat name.
func (t *Thread) SetChatName(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update redraws the thread. Messages must be sorted oldest first.
func (t *Thread) Update(msgs []store.Message) {
	t.msgs = msgs
	t.Clear()

	for i, m := range msgs {
		who := "them"
		if m.Direction == store.Outgoing {
			who = "[::b]you[-:-:-]"
		}
		body := sanitizeForTerminal(m.Text)
		if m.Media != nil {
			body = fmt.Sprintf("[%s] %s", m.Media.Kind, body)
		}
		line := fmt.Sprintf(" [::d]%s[-:-:-] %s: %s%s", formatTimestamp(m.Date), who, body, statusSuffix(m))
		t.SetCell(i, 0, tview.NewTableCell(line).SetExpansion(1))
	}
}

// ViewState snapshots the viewport for the scroll controller. Every row
// is one cell high, so item tops are just indices.
func (t *Thread) ViewState() scroll.ViewState {
	rowOffset, _ := t.GetOffset()
	_, _, _, height := t.GetInnerRect()

	items := make([]scroll.Item, len(t.msgs))
	for i := range t.msgs {
		items[i] = scroll.Item{ID: t.msgs[i].ID(), Top: i, Height: 1}
	}
	return scroll.ViewState{
		ScrollTop:      rowOffset,
		ViewportHeight: height,
		ContentHeight:  len(t.msgs),
		Items:          items,
	}
}

// SelectMessage moves the selection to the row holding the given ID.
func (t *Thread) SelectMessage(id string) {
	for i := range t.msgs {
		if t.msgs[i].ID() == id {
			t.Select(i, 0)
			return
		}
	}
}

// SelectedMessage returns the message on the currently selected row.
func (t *Thread) SelectedMessage() (store.Message, bool) {
	row, _ := t.GetSelection()
	if row >= 0 && row < len(t.msgs) {
		return t.msgs[row], true
	}
	return store.Message{}, false
}

// ScrollToBottom selects the newest message.
func (t *Thread) ScrollToBottom() {
	if len(t.msgs) > 0 {
		t.Select(len(t.msgs)-1, 0)
	}
}

func statusSuffix(m store.Message) string {
	if m.Direction != store.Outgoing {
		return viewsSuffix(m)
	}
	switch m.Status {
	case store.StatusPending:
		return " [::d](sending)[-:-:-]"
	case store.StatusFailed:
		return " [red](failed)[-]"
	case store.StatusDelivered:
		return " [::d]✓✓[-:-:-]" + viewsSuffix(m)
	default:
		return " [::d]✓[-:-:-]" + viewsSuffix(m)
	}
}

func viewsSuffix(m store.Message) string {
	if m.Views <= 0 {
		return ""
	}
	return fmt.Sprintf(" [::d]%d views[-:-:-]", m.Views)
}
