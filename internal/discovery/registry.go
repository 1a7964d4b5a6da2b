package discovery

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds every player ever seen this process lifetime, keyed by
// device UUID. Entries are updated on rediscovery but never removed; a
// player that stops answering keeps its last known record, so control
// requests degrade to transport errors instead of 404s during blips.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*Player
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Player)}
}

// Upsert records a player, returning true when the UUID was not known
// before. Existing records are replaced wholesale so a rename or IP change
// takes effect immediately.
func (r *Registry) Upsert(p *Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.players[p.ID]
	r.players[p.ID] = p
	return !known
}

// ByID looks a player up by device UUID.
func (r *Registry) ByID(id string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// ByRoom returns every player claiming a room name, case-insensitively,
// sorted by UUID. A stereo pair yields both channels; callers wanting the
// controllable one resolve the pair primary through the topology.
func (r *Registry) ByRoom(room string) []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []*Player
	for _, p := range r.players {
		if strings.EqualFold(p.RoomName, room) {
			matches = append(matches, p)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

// Resolve accepts either a device UUID or a room name. A room shared by a
// stereo pair resolves to the lowest UUID.
func (r *Registry) Resolve(idOrRoom string) (*Player, bool) {
	if p, ok := r.ByID(idOrRoom); ok {
		return p, true
	}
	if players := r.ByRoom(idOrRoom); len(players) > 0 {
		return players[0], true
	}
	return nil, false
}

// All returns every known player sorted by room name, then UUID.
func (r *Registry) All() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomName != out[j].RoomName {
			return out[i].RoomName < out[j].RoomName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of known players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
