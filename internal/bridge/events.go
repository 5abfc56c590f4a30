package bridge

import (
	"encoding/json"
	"sync"

	"github.com/foundry-erp/updater/internal/logger"
)

const (
	EventDownloadProgress = "download-progress"
	EventUpdateAvailable  = "update-can-available"

	subscriberBuffer = 64
)

type event struct {
	name string
	data []byte
}

// hub fans push events out to SSE subscribers. A subscriber whose buffer is
// full loses its oldest queued event, so the newest one is always delivered.
type hub struct {
	mu     sync.Mutex
	subs   map[chan event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan event]struct{})}
}

// subscribe registers a subscriber. The returned func unregisters it; the
// channel is closed on unsubscribe or when the hub closes.
func (h *hub) subscribe() (<-chan event, func()) {
	ch := make(chan event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) publish(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("encode %s event: %v", name, err)
		return
	}
	ev := event{name: name, data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case old := <-ch:
			logger.Debug("dropping %s event for slow subscriber", old.name)
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
