package player

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/didl"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/hub"
	"github.com/mboyle/zonehub/internal/soap"
	"github.com/mboyle/zonehub/internal/topology"
)

// Controller is the per-player operation façade. Transport commands are
// routed to the zone coordinator; rendering commands stay on the addressed
// member. All state flows through the cache so change events fire no matter
// whether a change came from a command, a poll, or a NOTIFY.
type Controller struct {
	soap     *soap.Client
	registry *discovery.Registry
	topo     *topology.Manager
	events   *hub.Hub

	// Tunables, shortened in tests.
	settleDelay  time.Duration // wait after SetAVTransportURI for http(s) URIs
	retryDelay   time.Duration // wait before the single 701 Play retry
	topoPollStep time.Duration
	topoPollMax  time.Duration

	states *stateCache
	now    func() time.Time
}

func NewController(client *soap.Client, registry *discovery.Registry, topo *topology.Manager, events *hub.Hub) *Controller {
	return &Controller{
		soap:         client,
		registry:     registry,
		topo:         topo,
		events:       events,
		settleDelay:  500 * time.Millisecond,
		retryDelay:   time.Second,
		topoPollStep: 100 * time.Millisecond,
		topoPollMax:  300 * time.Millisecond,
		states:       newStateCache(),
		now:          time.Now,
	}
}

// resolve maps a device UUID or room name to a player.
func (c *Controller) resolve(idOrRoom string) (*discovery.Player, error) {
	if p, ok := c.registry.Resolve(idOrRoom); ok {
		return p, nil
	}
	return nil, apperrors.NewNotFound("player", idOrRoom)
}

// coordinatorTarget returns the player that owns the transport for p: the
// zone coordinator when topology knows one, p itself otherwise.
func (c *Controller) coordinatorTarget(p *discovery.Player) *discovery.Player {
	coordID, ok := c.topo.CoordinatorOf(p.ID)
	if !ok || coordID == p.ID {
		return p
	}
	if coord, ok := c.registry.ByID(coordID); ok {
		return coord
	}
	return p
}

func (c *Controller) invoke(ctx context.Context, p *discovery.Player, svc soap.Service, action string, args []soap.Arg) ([]byte, error) {
	return c.soap.Invoke(ctx, p.ControlURL(svc), soap.ServiceType(svc), action, args)
}

func (c *Controller) avTransport(ctx context.Context, p *discovery.Player, action string, args []soap.Arg) ([]byte, error) {
	return c.invoke(ctx, p, soap.ServiceAVTransport, action, args)
}

// Transport operations. All route to the coordinator.

func (c *Controller) Play(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Play",
		soap.Args("InstanceID", "0", "Speed", "1"))
	return err
}

func (c *Controller) Pause(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Pause",
		soap.Args("InstanceID", "0"))
	return err
}

func (c *Controller) Stop(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Stop",
		soap.Args("InstanceID", "0"))
	return err
}

func (c *Controller) Next(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Next",
		soap.Args("InstanceID", "0"))
	return err
}

func (c *Controller) Previous(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Previous",
		soap.Args("InstanceID", "0"))
	return err
}

// SeekTrack jumps to a 1-based queue position.
func (c *Controller) SeekTrack(ctx context.Context, idOrRoom string, track int) error {
	if track < 1 {
		return apperrors.NewInvalidArgument(fmt.Sprintf("track number %d out of range", track))
	}
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Seek",
		soap.Args("InstanceID", "0", "Unit", "TRACK_NR", "Target", strconv.Itoa(track)))
	return err
}

// SeekTime seeks within the current track to an "H:MM:SS" position.
func (c *Controller) SeekTime(ctx context.Context, idOrRoom, target string) error {
	if _, ok := didl.ParseDuration(target); !ok {
		return apperrors.NewInvalidArgument(fmt.Sprintf("bad seek target %q, want H:MM:SS", target))
	}
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "Seek",
		soap.Args("InstanceID", "0", "Unit", "REL_TIME", "Target", target))
	return err
}

// SetAVTransportURI points the transport at a URI without starting playback.
func (c *Controller) SetAVTransportURI(ctx context.Context, idOrRoom, uri, metadata string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	return c.setTransportURI(ctx, c.coordinatorTarget(p), uri, metadata)
}

func (c *Controller) setTransportURI(ctx context.Context, p *discovery.Player, uri, metadata string) error {
	_, err := c.avTransport(ctx, p, "SetAVTransportURI",
		soap.Args("InstanceID", "0", "CurrentURI", uri, "CurrentURIMetaData", metadata))
	return err
}

// Rendering operations. These stay on the addressed member.

func (c *Controller) GetVolume(ctx context.Context, idOrRoom string) (int, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return 0, err
	}
	payload, err := c.invoke(ctx, p, soap.ServiceRenderingControl, "GetVolume",
		soap.Args("InstanceID", "0", "Channel", "Master"))
	if err != nil {
		return 0, err
	}
	volume, _ := strconv.Atoi(soap.ExtractValue(payload, "CurrentVolume"))
	c.applyVolume(p, volume)
	return volume, nil
}

// SetVolume sets the member volume, clamped to [0,100]. The cache updates
// and change events fire from the confirmed value.
func (c *Controller) SetVolume(ctx context.Context, idOrRoom string, volume int) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	volume = clampVolume(volume)
	_, err = c.invoke(ctx, p, soap.ServiceRenderingControl, "SetVolume",
		soap.Args("InstanceID", "0", "Channel", "Master", "DesiredVolume", strconv.Itoa(volume)))
	if err != nil {
		return err
	}
	_, err = c.GetVolume(ctx, p.ID)
	return err
}

func (c *Controller) GetMute(ctx context.Context, idOrRoom string) (bool, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return false, err
	}
	payload, err := c.invoke(ctx, p, soap.ServiceRenderingControl, "GetMute",
		soap.Args("InstanceID", "0", "Channel", "Master"))
	if err != nil {
		return false, err
	}
	muted := soap.ExtractValue(payload, "CurrentMute") == "1"
	c.applyMute(p, muted)
	return muted, nil
}

func (c *Controller) SetMute(ctx context.Context, idOrRoom string, mute bool) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	desired := "0"
	if mute {
		desired = "1"
	}
	_, err = c.invoke(ctx, p, soap.ServiceRenderingControl, "SetMute",
		soap.Args("InstanceID", "0", "Channel", "Master", "DesiredMute", desired))
	if err != nil {
		return err
	}
	_, err = c.GetMute(ctx, p.ID)
	return err
}

// SetGroupVolume sets the volume of the whole group through the group
// rendering service. Stereo-pair secondaries often lack the service: when
// the call is rejected there, delegate to the coordinator, and as a last
// resort fall back to a member-local SetVolume.
func (c *Controller) SetGroupVolume(ctx context.Context, idOrRoom string, volume int) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	volume = clampVolume(volume)
	args := soap.Args("InstanceID", "0", "DesiredVolume", strconv.Itoa(volume))

	if _, err := c.invoke(ctx, p, soap.ServiceGroupRenderingControl, "SetGroupVolume", args); err == nil {
		return nil
	}

	if coord := c.coordinatorTarget(p); coord.ID != p.ID {
		if _, err := c.invoke(ctx, coord, soap.ServiceGroupRenderingControl, "SetGroupVolume", args); err == nil {
			return nil
		}
	}

	log.Printf("UPNP: group volume unsupported on %s, falling back to member volume", p.ID)
	return c.SetVolume(ctx, p.ID, volume)
}

// Grouping operations.

// BecomeCoordinator detaches the player into its own standalone group.
// Code 1023 means the device is a stereo-pair secondary that cannot hold
// the role; that is fine, the pair primary already coordinates.
func (c *Controller) BecomeCoordinator(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	return c.becomeCoordinator(ctx, p)
}

func (c *Controller) becomeCoordinator(ctx context.Context, p *discovery.Player) error {
	_, err := c.avTransport(ctx, p, "BecomeCoordinatorOfStandaloneGroup",
		soap.Args("InstanceID", "0"))
	if soap.IsFaultCode(err, soap.CodeInvalidRole) {
		return nil
	}
	return err
}

// JoinGroup makes the player follow another group's coordinator.
func (c *Controller) JoinGroup(ctx context.Context, idOrRoom, coordinatorIDOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	coordPlayer, err := c.resolve(coordinatorIDOrRoom)
	if err != nil {
		return err
	}
	coord := c.coordinatorTarget(coordPlayer)
	return c.setTransportURI(ctx, p, "x-rincon:"+coord.ID, "")
}

// LeaveGroup detaches the player from its group.
func (c *Controller) LeaveGroup(ctx context.Context, idOrRoom string) error {
	return c.BecomeCoordinator(ctx, idOrRoom)
}
