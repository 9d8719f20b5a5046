package app

import (
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/dialogs"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/outbox"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/rest"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/scroll"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/status"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
)

// Engine bundles the running components the UI layer works against.
type Engine struct {
	Session  string
	Store    *store.Store
	Dialogs  *dialogs.Aggregator
	Scroll   *scroll.Controller
	Sender   *outbox.Sender
	Rest     *rest.Client
	Registry *push.Registry
	Machine  *status.Machine
	Bus      *bus.Bus
}

// NewEngine assembles the UI-facing engine handle.
func NewEngine(
	p Params,
	st *store.Store,
	agg *dialogs.Aggregator,
	sc *scroll.Controller,
	sender *outbox.Sender,
	client *rest.Client,
	registry *push.Registry,
	machine *status.Machine,
	b *bus.Bus,
) *Engine {
	return &Engine{
		Session:  p.SessionName,
		Store:    st,
		Dialogs:  agg,
		Scroll:   sc,
		Sender:   sender,
		Rest:     client,
		Registry: registry,
		Machine:  machine,
		Bus:      b,
	}
}
