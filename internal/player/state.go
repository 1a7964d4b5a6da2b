package player

import (
	"context"
	"log"
	"strconv"
	"sync"

	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/gena"
	"github.com/mboyle/zonehub/internal/hub"
	"github.com/mboyle/zonehub/internal/soap"
)

type playerState struct {
	mu    sync.Mutex
	state State
	known bool
}

// stateCache holds one entry per player. Each entry has its own lock so a
// burst of NOTIFYs for one player serializes without stalling the fleet.
type stateCache struct {
	mu      sync.Mutex
	entries map[string]*playerState
}

func newStateCache() *stateCache {
	return &stateCache{entries: make(map[string]*playerState)}
}

func (sc *stateCache) entry(id string) *playerState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e, ok := sc.entries[id]
	if !ok {
		e = &playerState{}
		sc.entries[id] = e
	}
	return e
}

// StateOf returns the cached state snapshot for a player.
func (c *Controller) StateOf(idOrRoom string) (State, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return State{}, err
	}
	e := c.states.entry(p.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.known {
		return State{}, apperrors.NewUnavailable("no state observed yet for " + p.ID)
	}
	return e.state, nil
}

// applyState replaces a player's state via mutate and emits change events
// from the diff. The entry lock is held through publication so events for
// one player keep their order; the hub never blocks, so holding it is
// cheap.
func (c *Controller) applyState(p *discovery.Player, mutate func(*State)) {
	e := c.states.entry(p.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.state
	next := previous
	mutate(&next)
	next.Volume = clampVolume(next.Volume)
	next.UpdatedAt = c.now()
	e.state = next

	if !e.known {
		// First observation: nothing to diff against.
		e.known = true
		return
	}
	if next.sameTuple(previous) {
		return
	}

	c.events.Publish(hub.Event{
		Type:     hub.TypeDeviceState,
		PlayerID: p.ID,
		RoomName: p.RoomName,
		Data:     hub.StateChange{Previous: previous, Current: next},
	})
	if previous.Volume != next.Volume {
		c.events.Publish(hub.Event{
			Type:     hub.TypeVolume,
			PlayerID: p.ID,
			RoomName: p.RoomName,
			Data:     hub.VolumeChange{Channel: "Master", Previous: previous.Volume, Current: next.Volume},
		})
	}
	if previous.Mute != next.Mute {
		c.events.Publish(hub.Event{
			Type:     hub.TypeMute,
			PlayerID: p.ID,
			RoomName: p.RoomName,
			Data:     hub.MuteChange{Previous: previous.Mute, Current: next.Mute},
		})
	}
	if previous.trackURI() != next.trackURI() {
		c.events.Publish(hub.Event{
			Type:     hub.TypeTrack,
			PlayerID: p.ID,
			RoomName: p.RoomName,
			Data:     hub.TrackChange{Previous: previous.Track, Current: next.Track},
		})
	}
}

func (c *Controller) applyVolume(p *discovery.Player, volume int) {
	c.applyState(p, func(s *State) { s.Volume = volume })
}

func (c *Controller) applyMute(p *discovery.Player, muted bool) {
	c.applyState(p, func(s *State) { s.Mute = muted })
}

// normalizeTransport folds the wire vocabulary into the cached one.
func normalizeTransport(state string) string {
	if state == "PAUSED_PLAYBACK" {
		return "PAUSED"
	}
	return state
}

// UpdateState polls the player's live state with the four state calls in
// parallel and applies the result as one snapshot.
func (c *Controller) UpdateState(ctx context.Context, idOrRoom string) (State, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return State{}, err
	}

	var (
		wg                       sync.WaitGroup
		transport                string
		volume                   int
		muted                    bool
		track                    *Track
		tErr, vErr, mErr, posErr error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		payload, err := c.avTransport(ctx, p, "GetTransportInfo", soap.Args("InstanceID", "0"))
		if err != nil {
			tErr = err
			return
		}
		transport = normalizeTransport(soap.ExtractValue(payload, "CurrentTransportState"))
	}()
	go func() {
		defer wg.Done()
		payload, err := c.invoke(ctx, p, soap.ServiceRenderingControl, "GetVolume",
			soap.Args("InstanceID", "0", "Channel", "Master"))
		if err != nil {
			vErr = err
			return
		}
		volume, _ = strconv.Atoi(soap.ExtractValue(payload, "CurrentVolume"))
	}()
	go func() {
		defer wg.Done()
		payload, err := c.invoke(ctx, p, soap.ServiceRenderingControl, "GetMute",
			soap.Args("InstanceID", "0", "Channel", "Master"))
		if err != nil {
			mErr = err
			return
		}
		muted = soap.ExtractValue(payload, "CurrentMute") == "1"
	}()
	go func() {
		defer wg.Done()
		payload, err := c.avTransport(ctx, p, "GetPositionInfo", soap.Args("InstanceID", "0"))
		if err != nil {
			posErr = err
			return
		}
		track = trackFromDIDL(
			soap.ExtractValue(payload, "TrackURI"),
			soap.ExtractValue(payload, "TrackMetaData"),
			soap.ExtractValue(payload, "TrackDuration"),
		)
	}()
	wg.Wait()

	for _, err := range []error{tErr, vErr, mErr, posErr} {
		if err != nil {
			return State{}, err
		}
	}

	c.applyState(p, func(s *State) {
		s.Transport = transport
		s.Volume = volume
		s.Mute = muted
		s.Track = track
	})
	return c.StateOf(p.ID)
}

// UpdateAllStates polls every registered player concurrently. Failures are
// logged per player; a dead player must not hide the rest.
func (c *Controller) UpdateAllStates(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.registry.All() {
		wg.Add(1)
		go func(p *discovery.Player) {
			defer wg.Done()
			if _, err := c.UpdateState(ctx, p.ID); err != nil {
				log.Printf("UPNP: state poll failed for %s: %v", p.ID, err)
			}
		}(p)
	}
	wg.Wait()
}

// HandleEvent consumes NOTIFY bodies from the subscriber. Topology events
// feed the topology manager; AVTransport and RenderingControl events merge
// into the state cache.
func (c *Controller) HandleEvent(playerID, service string, body []byte) {
	p, ok := c.registry.ByID(playerID)
	if !ok {
		return
	}
	props := gena.ParsePropertySet(body)

	switch service {
	case string(soap.ServiceZoneGroupTopology):
		state := props["ZoneGroupState"]
		if state == "" {
			return
		}
		if _, err := c.topo.Apply(gena.Unescape(state)); err != nil {
			log.Printf("TOPO: bad topology event from %s: %v", playerID, err)
		}

	case string(soap.ServiceAVTransport):
		lastChange := props["LastChange"]
		if lastChange == "" {
			return
		}
		change, err := gena.ParseAVTransportChange(gena.Unescape(lastChange))
		if err != nil {
			log.Printf("UPNP: bad AVTransport event from %s: %v", playerID, err)
			return
		}
		c.applyState(p, func(s *State) {
			if change.TransportState != "" {
				s.Transport = normalizeTransport(change.TransportState)
			}
			if change.CurrentTrackURI != "" {
				s.Track = trackFromDIDL(change.CurrentTrackURI, change.CurrentTrackMetaData, change.CurrentTrackDuration)
			}
		})

	case string(soap.ServiceRenderingControl):
		lastChange := props["LastChange"]
		if lastChange == "" {
			return
		}
		change, err := gena.ParseRenderingChange(gena.Unescape(lastChange))
		if err != nil {
			log.Printf("UPNP: bad RenderingControl event from %s: %v", playerID, err)
			return
		}
		c.applyState(p, func(s *State) {
			if v, ok := change.Volume["Master"]; ok {
				s.Volume = v
			}
			if m, ok := change.Mute["Master"]; ok {
				s.Mute = m
			}
		})
	}
}
