package hub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type string

const (
	TypeDeviceState Type = "deviceStateChange"
	TypeVolume      Type = "volumeChange"
	TypeMute        Type = "muteChange"
	TypeTrack       Type = "trackChange"
	TypeTopology    Type = "topologyChange"
	TypeContent     Type = "contentUpdate"
)

// Event is one state transition. Data holds the type-specific payload with
// previous and current values.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	PlayerID  string    `json:"playerId,omitempty"`
	RoomName  string    `json:"roomName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type subscriber struct {
	ch    chan Event
	types map[Type]struct{} // nil means all
}

// Hub fans events out to subscribers. Delivery is lossy: a subscriber that
// does not drain its channel loses events rather than blocking producers,
// so a stalled webhook cannot back up state processing. Per producer,
// delivered events keep their publish order.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	closed  bool
	dropped uint64
}

func New() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Subscribe registers a consumer. types filters delivery; empty means all
// event types. The returned channel is closed on Unsubscribe or hub Close.
func (h *Hub) Subscribe(buffer int, types ...Type) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	id := uuid.NewString()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return id, sub.ch
	}
	h.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish delivers an event to all matching subscribers without blocking.
// Missing id and timestamp are filled in.
func (h *Hub) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.types != nil {
			if _, ok := sub.types[evt.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped++
			if h.dropped%100 == 1 {
				log.Printf("HUB: dropping events for slow subscriber (%d dropped total)", h.dropped)
			}
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// SubscriberCount returns the number of attached consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches all subscribers and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Payload types carried in Event.Data.

// StateChange reports a playback-state transition carrying the full
// snapshot on both sides, so a consumer can diff any field without a
// follow-up poll.
type StateChange struct {
	Previous any `json:"previous"`
	Current  any `json:"current"`
}

// VolumeChange reports a volume transition on one channel.
type VolumeChange struct {
	Channel  string `json:"channel,omitempty"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
}

// MuteChange reports a mute transition.
type MuteChange struct {
	Previous bool `json:"previous"`
	Current  bool `json:"current"`
}

// TrackChange reports a now-playing transition. The track payloads are
// whatever the producer considers a track summary.
type TrackChange struct {
	Previous any `json:"previous,omitempty"`
	Current  any `json:"current,omitempty"`
}

// TopologyChange reports a zone-set replacement.
type TopologyChange struct {
	Previous any `json:"previous,omitempty"`
	Current  any `json:"current"`
}

// ContentUpdate reports a ContentDirectory container change.
type ContentUpdate struct {
	ContainerIDs string `json:"containerIds,omitempty"`
}
