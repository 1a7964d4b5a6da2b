package player

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/soap"
)

// URIClass tags an outbound URI with its playback path.
type URIClass string

const (
	ClassDirect          URIClass = "direct"
	ClassQueueContainer  URIClass = "queueContainer"
	ClassLibraryPlaylist URIClass = "libraryPlaylist"
	ClassGroupMember     URIClass = "groupMember"
)

// ClassifyURI picks the playback path from the URI prefix. Unknown schemes
// fall back to direct; the device is the final judge of what it can render.
func ClassifyURI(uri string) URIClass {
	switch {
	case strings.HasPrefix(uri, "x-rincon-playlist:"):
		return ClassLibraryPlaylist
	case strings.HasPrefix(uri, "x-rincon-cpcontainer:"):
		return ClassQueueContainer
	case strings.HasPrefix(uri, "x-rincon:"):
		return ClassGroupMember
	default:
		return ClassDirect
	}
}

// PlayURI routes a URI to the right playback algorithm for its class.
func (c *Controller) PlayURI(ctx context.Context, idOrRoom, uri, metadata string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}

	switch ClassifyURI(uri) {
	case ClassLibraryPlaylist:
		return c.playLibraryPlaylist(ctx, p, uri)
	case ClassQueueContainer:
		return c.playQueueContainer(ctx, p, uri, metadata)
	case ClassGroupMember:
		// Joining a group: the new coordinator drives the transport.
		return c.setTransportURI(ctx, p, uri, "")
	default:
		return c.playDirect(ctx, p, uri, metadata)
	}
}

// playLibraryPlaylist expands a library playlist into the queue and plays
// from it: clear, browse the container, enqueue each item, point the
// transport at the queue, play.
func (c *Controller) playLibraryPlaylist(ctx context.Context, p *discovery.Player, uri string) error {
	idx := strings.LastIndex(uri, "#")
	if idx < 0 || idx == len(uri)-1 {
		return apperrors.NewInvalidArgument("playlist URI missing container id: " + uri)
	}
	containerID := uri[idx+1:]

	if err := c.ensureCoordinator(ctx, p); err != nil {
		return err
	}
	if err := c.clearQueue(ctx, p); err != nil {
		return err
	}

	items, err := c.Browse(ctx, p.ID, containerID, 0, 1000)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.URI == "" || item.Metadata == "" {
			continue
		}
		if _, err := c.addURIToQueue(ctx, p, item.URI, item.Metadata, false, 0); err != nil {
			return err
		}
	}

	if err := c.setTransportURI(ctx, p, QueueURI(p.ID), ""); err != nil {
		return err
	}
	return c.playWithRetry(ctx, p)
}

// playQueueContainer enqueues a provider container and plays from the
// queue.
func (c *Controller) playQueueContainer(ctx context.Context, p *discovery.Player, uri, metadata string) error {
	if err := c.ensureCoordinator(ctx, p); err != nil {
		return err
	}
	if err := c.clearQueue(ctx, p); err != nil {
		return err
	}
	if _, err := c.addURIToQueue(ctx, p, uri, metadata, false, 0); err != nil {
		return err
	}
	if err := c.setTransportURI(ctx, p, QueueURI(p.ID), ""); err != nil {
		return err
	}
	return c.playWithRetry(ctx, p)
}

// playDirect hands the URI straight to the transport. http(s) sources get
// a settle pause before Play so the device can start buffering.
func (c *Controller) playDirect(ctx context.Context, p *discovery.Player, uri, metadata string) error {
	if err := c.ensureCoordinator(ctx, p); err != nil {
		return err
	}
	// A failing Stop is fine; the transport may already be stopped.
	if _, err := c.avTransport(ctx, p, "Stop", soap.Args("InstanceID", "0")); err != nil {
		log.Printf("UPNP: pre-play stop failed on %s: %v", p.ID, err)
	}
	if err := c.setTransportURI(ctx, p, uri, metadata); err != nil {
		return err
	}
	if strings.HasPrefix(uri, "http:") || strings.HasPrefix(uri, "https:") {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.settleDelay):
		}
	}
	return c.playWithRetry(ctx, p)
}

// playWithRetry issues Play, retrying once after a pause when the device
// answers 701 (content not ready yet).
func (c *Controller) playWithRetry(ctx context.Context, p *discovery.Player) error {
	play := func() error {
		_, err := c.avTransport(ctx, p, "Play", soap.Args("InstanceID", "0", "Speed", "1"))
		return err
	}
	err := play()
	if !soap.IsFaultCode(err, soap.CodeContentNotReady) {
		return err
	}
	log.Printf("UPNP: %s not ready (701), retrying play once", p.ID)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
	}
	return play()
}

// ensureCoordinator makes p coordinate before a transport takeover. When
// topology has not arrived yet it waits briefly, then attempts the takeover
// anyway; a secondary answering 1023 is tolerated inside becomeCoordinator.
func (c *Controller) ensureCoordinator(ctx context.Context, p *discovery.Player) error {
	deadline := time.Now().Add(c.topoPollMax)
	for {
		if _, ok := c.topo.ZoneFor(p.ID); ok {
			if c.topo.IsCoordinator(p.ID) {
				return nil
			}
			return c.becomeCoordinator(ctx, p)
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.topoPollStep):
		}
	}
	return c.becomeCoordinator(ctx, p)
}

// PresetPlayer is one room entry of a preset.
type PresetPlayer struct {
	Room   string `json:"roomName" yaml:"roomName"`
	Volume *int   `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// Preset is an already-loaded preset definition: a URI plus the legacy
// extension fields (players, playMode, pauseOthers, sleep).
type Preset struct {
	URI         string         `json:"uri" yaml:"uri"`
	Metadata    string         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Players     []PresetPlayer `json:"players" yaml:"players"`
	PlayMode    string         `json:"playMode,omitempty" yaml:"playMode,omitempty"`
	PauseOthers bool           `json:"pauseOthers,omitempty" yaml:"pauseOthers,omitempty"`
	Sleep       int            `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	State       string         `json:"state,omitempty" yaml:"state,omitempty"`
}

// PlayPreset assembles the preset's group and starts playback. The first
// player leads; the rest join it. Per-member failures are logged, not
// fatal; a missing bedroom speaker must not silence the kitchen.
func (c *Controller) PlayPreset(ctx context.Context, preset Preset) error {
	if len(preset.Players) == 0 {
		return apperrors.NewInvalidArgument("preset names no players")
	}
	lead, err := c.resolve(preset.Players[0].Room)
	if err != nil {
		return err
	}

	if preset.PauseOthers {
		c.pauseOthers(ctx, preset, lead)
	}

	if err := c.becomeCoordinator(ctx, lead); err != nil {
		return err
	}
	if v := preset.Players[0].Volume; v != nil {
		if err := c.SetVolume(ctx, lead.ID, *v); err != nil {
			log.Printf("UPNP: preset volume failed on %s: %v", lead.ID, err)
		}
	}

	for _, member := range preset.Players[1:] {
		mp, err := c.resolve(member.Room)
		if err != nil {
			log.Printf("UPNP: preset player %q unknown, skipping", member.Room)
			continue
		}
		if err := c.setTransportURI(ctx, mp, "x-rincon:"+lead.ID, ""); err != nil {
			log.Printf("UPNP: preset join failed for %s: %v", mp.ID, err)
			continue
		}
		if member.Volume != nil {
			if err := c.SetVolume(ctx, mp.ID, *member.Volume); err != nil {
				log.Printf("UPNP: preset volume failed on %s: %v", mp.ID, err)
			}
		}
	}

	if preset.PlayMode != "" {
		if err := c.setPlayMode(ctx, lead, preset.PlayMode); err != nil {
			log.Printf("UPNP: preset playmode failed on %s: %v", lead.ID, err)
		}
	}

	if preset.URI != "" && !strings.EqualFold(preset.State, "stopped") {
		if err := c.PlayURI(ctx, lead.ID, preset.URI, preset.Metadata); err != nil {
			return err
		}
	}

	if preset.Sleep > 0 {
		if err := c.SetSleepTimer(ctx, lead.ID, preset.Sleep); err != nil {
			log.Printf("UPNP: preset sleep timer failed on %s: %v", lead.ID, err)
		}
	}
	return nil
}

// pauseOthers pauses every zone coordinator not involved in the preset.
func (c *Controller) pauseOthers(ctx context.Context, preset Preset, lead *discovery.Player) {
	involved := map[string]struct{}{lead.ID: {}}
	for _, member := range preset.Players {
		if mp, ok := c.registry.Resolve(member.Room); ok {
			involved[mp.ID] = struct{}{}
		}
	}
	for _, zone := range c.topo.Zones() {
		if _, ok := involved[zone.CoordinatorID]; ok {
			continue
		}
		if err := c.Pause(ctx, zone.CoordinatorID); err != nil {
			log.Printf("UPNP: pause-others failed for %s: %v", zone.CoordinatorID, err)
		}
	}
}
