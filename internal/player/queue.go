package player

import (
	"context"
	"strconv"

	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/didl"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/soap"
)

// BrowseItem is one entry of a browse or queue listing. Metadata is the
// item's own DIDL-Lite document, ready to pass back as enqueue metadata.
type BrowseItem struct {
	ID          string `json:"id"`
	ParentID    string `json:"parentId"`
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtURI string `json:"albumArtUri,omitempty"`
	URI         string `json:"uri"`
	Metadata    string `json:"-"`
}

const didlEnvelopeOpen = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`

// wrapDIDL re-wraps a raw item fragment in the DIDL-Lite envelope it was
// cut from.
func wrapDIDL(rawItem string) string {
	if rawItem == "" {
		return ""
	}
	return didlEnvelopeOpen + rawItem + `</DIDL-Lite>`
}

// QueueURI is the transport URI of a player's own queue.
func QueueURI(deviceID string) string {
	return "x-rincon-queue:" + deviceID + "#0"
}

// Browse lists a ContentDirectory container.
func (c *Controller) Browse(ctx context.Context, idOrRoom, objectID string, start, count int) ([]BrowseItem, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return nil, err
	}
	payload, err := c.invoke(ctx, p, soap.ServiceContentDirectory, "Browse", soap.Args(
		"ObjectID", objectID,
		"BrowseFlag", "BrowseDirectChildren",
		"Filter", "*",
		"StartingIndex", strconv.Itoa(start),
		"RequestedCount", strconv.Itoa(count),
		"SortCriteria", "",
	))
	if err != nil {
		return nil, err
	}

	result := soap.ExtractValue(payload, "Result")
	if result == "" {
		return nil, nil
	}

	var items []BrowseItem
	for _, item := range didl.ParseDIDL(result) {
		items = append(items, BrowseItem{
			ID:          item.ID,
			ParentID:    item.ParentID,
			Title:       item.Title,
			Artist:      item.Creator,
			Album:       item.Album,
			AlbumArtURI: item.AlbumArtURI,
			URI:         item.URI,
			Metadata:    wrapDIDL(item.Raw),
		})
	}
	return items, nil
}

// GetQueue lists the player's queue.
func (c *Controller) GetQueue(ctx context.Context, idOrRoom string, limit, offset int) ([]BrowseItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return c.Browse(ctx, idOrRoom, "Q:0", offset, limit)
}

// AddURIToQueue enqueues a URI. position is the 1-based desired slot, 0
// appends. Returns the track number actually assigned.
func (c *Controller) AddURIToQueue(ctx context.Context, idOrRoom, uri, metadata string, asNext bool, position int) (int, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return 0, err
	}
	return c.addURIToQueue(ctx, c.coordinatorTarget(p), uri, metadata, asNext, position)
}

func (c *Controller) addURIToQueue(ctx context.Context, p *discovery.Player, uri, metadata string, asNext bool, position int) (int, error) {
	next := "0"
	if asNext {
		next = "1"
	}
	payload, err := c.avTransport(ctx, p, "AddURIToQueue", soap.Args(
		"InstanceID", "0",
		"EnqueuedURI", uri,
		"EnqueuedURIMetaData", metadata,
		"DesiredFirstTrackNumberEnqueued", strconv.Itoa(position),
		"EnqueueAsNext", next,
	))
	if err != nil {
		return 0, err
	}
	track, _ := strconv.Atoi(soap.ExtractValue(payload, "FirstTrackNumberEnqueued"))
	return track, nil
}

// ClearQueue removes every track from the queue.
func (c *Controller) ClearQueue(ctx context.Context, idOrRoom string) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	return c.clearQueue(ctx, c.coordinatorTarget(p))
}

func (c *Controller) clearQueue(ctx context.Context, p *discovery.Player) error {
	_, err := c.avTransport(ctx, p, "RemoveAllTracksFromQueue", soap.Args("InstanceID", "0"))
	return err
}

// Play mode operations.

// GetPlayMode reads the current (shuffle, repeat) pair.
func (c *Controller) GetPlayMode(ctx context.Context, idOrRoom string) (bool, Repeat, error) {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return false, RepeatNone, err
	}
	return c.getPlayMode(ctx, c.coordinatorTarget(p))
}

func (c *Controller) getPlayMode(ctx context.Context, p *discovery.Player) (bool, Repeat, error) {
	payload, err := c.avTransport(ctx, p, "GetTransportSettings", soap.Args("InstanceID", "0"))
	if err != nil {
		return false, RepeatNone, err
	}
	shuffle, repeat := DecodePlayMode(soap.ExtractValue(payload, "PlayMode"))
	return shuffle, repeat, nil
}

func (c *Controller) setPlayMode(ctx context.Context, p *discovery.Player, mode string) error {
	_, err := c.avTransport(ctx, p, "SetPlayMode", soap.Args("InstanceID", "0", "NewPlayMode", mode))
	return err
}

// SetRepeat changes the repeat setting, preserving the shuffle setting.
func (c *Controller) SetRepeat(ctx context.Context, idOrRoom string, repeat Repeat) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	target := c.coordinatorTarget(p)
	shuffle, _, err := c.getPlayMode(ctx, target)
	if err != nil {
		return err
	}
	return c.setPlayMode(ctx, target, EncodePlayMode(shuffle, repeat))
}

// SetShuffle changes the shuffle setting, preserving repeat where the wire
// format allows it.
func (c *Controller) SetShuffle(ctx context.Context, idOrRoom string, shuffle bool) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	target := c.coordinatorTarget(p)
	_, repeat, err := c.getPlayMode(ctx, target)
	if err != nil {
		return err
	}
	return c.setPlayMode(ctx, target, EncodePlayMode(shuffle, repeat))
}

// SetCrossfade toggles crossfade on the transport.
func (c *Controller) SetCrossfade(ctx context.Context, idOrRoom string, enabled bool) error {
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	mode := "0"
	if enabled {
		mode = "1"
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "SetCrossfadeMode",
		soap.Args("InstanceID", "0", "CrossfadeMode", mode))
	return err
}

// SetSleepTimer arms the sleep timer; zero seconds cancels it.
func (c *Controller) SetSleepTimer(ctx context.Context, idOrRoom string, seconds int) error {
	if seconds < 0 {
		return apperrors.NewInvalidArgument("sleep timer seconds must be >= 0")
	}
	p, err := c.resolve(idOrRoom)
	if err != nil {
		return err
	}
	duration := ""
	if seconds > 0 {
		duration = didl.FormatDuration(seconds)
	}
	_, err = c.avTransport(ctx, c.coordinatorTarget(p), "ConfigureSleepTimer",
		soap.Args("InstanceID", "0", "NewSleepTimerDuration", duration))
	return err
}
