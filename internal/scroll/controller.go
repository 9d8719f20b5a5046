package scroll

import (
	"context"
	"sync"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

const (
	defaultTopThreshold = 3
	defaultBottomSlack  = 2
)

// Item is one rendered message row.
type Item struct {
	ID     string
	Top    int
	Height int
}

// ViewState is a snapshot of the rendered thread viewport, in rows.
// Items are listed oldest first with monotonically increasing Top.
type ViewState struct {
	ScrollTop      int
	ViewportHeight int
	ContentHeight  int
	Items          []Item
}

// Anchor pins the viewport to a concrete message so prepended history
// does not visually shift the thread.
type Anchor struct {
	ID     string
	Offset int
}

// Fetcher loads the next backward history page. *store.Store satisfies it.
type Fetcher interface {
	FetchOlder(ctx context.Context, key store.ChatKey) error
}

// Controller decides when scrolling should trigger backward pagination
// and keeps the viewport stable across prepends. At most one fetch per
// chat is in flight; repeat scroll events inside the threshold are
// absorbed.
type Controller struct {
	fetcher Fetcher
	logger  *zap.Logger

	topThreshold int
	bottomSlack  int

	mu       sync.Mutex
	inflight map[store.ChatKey]bool
}

// NewController creates a scroll controller. topThreshold is the row
// distance from the top edge that arms a fetch; bottomSlack is how close
// to the bottom edge still counts as "at bottom".
func NewController(f Fetcher, logger *zap.Logger, topThreshold, bottomSlack int) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topThreshold <= 0 {
		topThreshold = defaultTopThreshold
	}
	if bottomSlack < 0 {
		bottomSlack = defaultBottomSlack
	}
	return &Controller{
		fetcher:      f,
		logger:       logger,
		topThreshold: topThreshold,
		bottomSlack:  bottomSlack,
		inflight:     make(map[store.ChatKey]bool),
	}
}

// HandleScroll inspects a scroll position and starts a backward fetch
// when the viewport is within the top threshold. It reports whether a
// fetch was started.
func (c *Controller) HandleScroll(ctx context.Context, key store.ChatKey, vs ViewState) bool {
	if vs.ScrollTop > c.topThreshold {
		return false
	}
	if len(vs.Items) == 0 {
		return false
	}

	c.mu.Lock()
	if c.inflight[key] {
		c.mu.Unlock()
		return false
	}
	c.inflight[key] = true
	c.mu.Unlock()

	go func() {
		if err := c.fetcher.FetchOlder(ctx, key); err != nil {
			c.logger.Warn("history fetch failed",
				zap.String("chat", string(key)),
				zap.Error(err),
			)
		}
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()
	return true
}

// Fetching reports whether a backward fetch is in flight for a chat.
func (c *Controller) Fetching(key store.ChatKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[key]
}

// CaptureAnchor records the topmost visible item and its offset from the
// viewport's top edge.
func (c *Controller) CaptureAnchor(vs ViewState) (Anchor, bool) {
	for _, it := range vs.Items {
		if it.Top+it.Height > vs.ScrollTop {
			return Anchor{ID: it.ID, Offset: it.Top - vs.ScrollTop}, true
		}
	}
	return Anchor{}, false
}

// RestoreAnchor computes the scroll position that puts the anchored item
// back at its captured offset after the item list changed. When the
// anchor is gone the current position is kept.
func (c *Controller) RestoreAnchor(vs ViewState, a Anchor) int {
	for _, it := range vs.Items {
		if it.ID == a.ID {
			return clampScroll(it.Top-a.Offset, vs)
		}
	}
	return clampScroll(vs.ScrollTop, vs)
}

// NearBottom reports whether the viewport is close enough to the newest
// message that it should stick there when new messages arrive.
func (c *Controller) NearBottom(vs ViewState) bool {
	return vs.ScrollTop+vs.ViewportHeight >= vs.ContentHeight-c.bottomSlack
}

// BottomPosition returns the scroll position showing the newest message.
func (c *Controller) BottomPosition(vs ViewState) int {
	return clampScroll(vs.ContentHeight-vs.ViewportHeight, vs)
}

func clampScroll(pos int, vs ViewState) int {
	max := vs.ContentHeight - vs.ViewportHeight
	if max < 0 {
		max = 0
	}
	if pos > max {
		pos = max
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}
