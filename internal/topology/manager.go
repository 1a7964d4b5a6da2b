package topology

import (
	"crypto/sha1"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/mboyle/zonehub/internal/didl"
)

// Member is one device inside a zone. Invisible members (stereo-pair
// secondaries, satellites, subwoofers) stay addressable by id but are
// filtered from room listings.
type Member struct {
	ID            string `json:"id"`
	RoomName      string `json:"roomName"`
	ChannelMapSet string `json:"-"`
	Invisible     bool   `json:"invisible,omitempty"`
	Satellite     bool   `json:"satellite,omitempty"`
	Subwoofer     bool   `json:"subwoofer,omitempty"`
}

// Zone is one playback group: a coordinator and the members following it.
type Zone struct {
	ID            string   `json:"id"`
	CoordinatorID string   `json:"coordinatorId"`
	Members       []Member `json:"members"`
}

// ChangeFunc observes topology replacements with the previous and the new
// zone sets.
type ChangeFunc func(previous, current []Zone)

// DeviceResolver is the narrow registry view the manager needs: the room
// name for a device id, when the id is known. A nil resolver treats every
// id as known.
type DeviceResolver func(id string) (room string, ok bool)

// Manager holds the current zone topology. Every accepted ZoneGroupState
// payload replaces the zone set wholesale; there is no incremental merge,
// so a group that vanished from the payload vanishes here too.
type Manager struct {
	resolve  DeviceResolver
	mu       sync.RWMutex
	zones    []Zone
	byDevice map[string]int
	lastHash [sha1.Size]byte
	applied  bool
	resolved bool
	onChange ChangeFunc
}

func NewManager(resolve DeviceResolver, onChange ChangeFunc) *Manager {
	return &Manager{
		resolve:  resolve,
		byDevice: make(map[string]int),
		onChange: onChange,
	}
}

func (m *Manager) known(id string) (string, bool) {
	if m.resolve == nil {
		return "", true
	}
	return m.resolve(id)
}

// Apply ingests a ZoneGroupState document. Identical consecutive payloads
// are dropped by content hash before parsing, unless the previous pass had
// to drop unregistered devices; those payloads re-resolve once the registry
// catches up. Devices re-send the full state on every subscription renewal.
func (m *Manager) Apply(payload string) (bool, error) {
	hash := sha1.Sum([]byte(payload))

	m.mu.Lock()
	if m.applied && m.resolved && hash == m.lastHash {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	doc, err := didl.ParseZoneGroupState(payload)
	if err != nil {
		return false, fmt.Errorf("parse zone group state: %w", err)
	}

	zones := make([]Zone, 0, len(doc.Groups))
	byDevice := make(map[string]int)
	resolved := true
	for _, group := range doc.Groups {
		coordRoom, coordKnown := m.known(group.Coordinator)
		if !coordKnown {
			log.Printf("TOPOLOGY: skipping zone %s, coordinator %s not registered", group.ID, group.Coordinator)
			resolved = false
			continue
		}
		zone := Zone{ID: group.ID, CoordinatorID: group.Coordinator}
		coordListed := false
		for _, member := range group.Members {
			if _, ok := m.known(member.UUID); !ok {
				resolved = false
				continue
			}
			if member.UUID == group.Coordinator {
				coordListed = true
			}
			zone.Members = append(zone.Members, Member{
				ID:            member.UUID,
				RoomName:      member.ZoneName,
				ChannelMapSet: member.ChannelMapSet,
				Invisible:     member.Invisible,
				Satellite:     member.IsSatellite,
				Subwoofer:     member.IsSubwoofer,
			})
		}
		// Some payloads omit the coordinator from its own member list.
		if !coordListed {
			zone.Members = append(zone.Members, Member{ID: group.Coordinator, RoomName: coordRoom})
		}
		for _, member := range zone.Members {
			byDevice[member.ID] = len(zones)
		}
		zones = append(zones, zone)
	}

	m.mu.Lock()
	previous := m.zones
	m.zones = zones
	m.byDevice = byDevice
	m.lastHash = hash
	m.applied = true
	m.resolved = resolved
	m.mu.Unlock()

	log.Printf("TOPOLOGY: applied %d zones", len(zones))
	if m.onChange != nil {
		m.onChange(previous, zones)
	}
	return true, nil
}

// Zones returns the current zone set.
func (m *Manager) Zones() []Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Zone, len(m.zones))
	copy(out, m.zones)
	return out
}

// ZoneFor returns the zone containing a device.
func (m *Manager) ZoneFor(deviceID string) (Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byDevice[deviceID]
	if !ok {
		return Zone{}, false
	}
	return m.zones[idx], true
}

// IsCoordinator reports whether a device currently leads its zone.
func (m *Manager) IsCoordinator(deviceID string) bool {
	zone, ok := m.ZoneFor(deviceID)
	return ok && zone.CoordinatorID == deviceID
}

// CoordinatorOf returns the coordinator of the zone containing a device.
func (m *Manager) CoordinatorOf(deviceID string) (string, bool) {
	zone, ok := m.ZoneFor(deviceID)
	if !ok {
		return "", false
	}
	return zone.CoordinatorID, true
}

// GroupMembers returns the ids of all members grouped with a device,
// including the device itself and invisible members.
func (m *Manager) GroupMembers(deviceID string) []string {
	zone, ok := m.ZoneFor(deviceID)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(zone.Members))
	for _, member := range zone.Members {
		ids = append(ids, member.ID)
	}
	return ids
}

// RoomCoordinator returns the coordinator id of the zone containing a
// visible member with the given room name.
func (m *Manager) RoomCoordinator(room string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, zone := range m.zones {
		for _, member := range zone.Members {
			if member.Invisible {
				continue
			}
			if strings.EqualFold(member.RoomName, room) {
				return zone.CoordinatorID, true
			}
		}
	}
	return "", false
}

// PairPrimary returns the left-channel device of the stereo pair in a room.
// Control operations target the primary; the secondary rejects role-bound
// actions.
func (m *Manager) PairPrimary(room string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, zone := range m.zones {
		for _, member := range zone.Members {
			if member.ChannelMapSet == "" {
				continue
			}
			if !strings.EqualFold(member.RoomName, room) {
				continue
			}
			if primary := didl.StereoPairPrimary(member.ChannelMapSet); primary != "" {
				return primary, true
			}
		}
	}
	return "", false
}
