package player

import (
	"strings"
	"time"

	"github.com/mboyle/zonehub/internal/didl"
)

// TrackKind classifies what the transport is rendering.
type TrackKind string

const (
	KindTrack  TrackKind = "track"
	KindRadio  TrackKind = "radio"
	KindLineIn TrackKind = "lineIn"
)

// Track is the now-playing summary. A nil *Track means nothing is loaded.
type Track struct {
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	Album        string    `json:"album,omitempty"`
	AlbumArtURI  string    `json:"albumArtUri,omitempty"`
	StationName  string    `json:"stationName,omitempty"`
	URI          string    `json:"uri"`
	Kind         TrackKind `json:"kind"`
	DurationSecs int       `json:"durationSecs,omitempty"`
}

// State is a player's cached playback state. Snapshots are replaced
// wholesale; readers never see a half-updated tuple.
type State struct {
	Transport string    `json:"transport"`
	Volume    int       `json:"volume"`
	Mute      bool      `json:"mute"`
	Track     *Track    `json:"track,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s State) trackURI() string {
	if s.Track == nil {
		return ""
	}
	return s.Track.URI
}

// sameTuple compares the change-detection tuple (transport, volume, mute,
// track URI).
func (s State) sameTuple(other State) bool {
	return s.Transport == other.Transport &&
		s.Volume == other.Volume &&
		s.Mute == other.Mute &&
		s.trackURI() == other.trackURI()
}

// kindOf classifies a transport URI by scheme prefix.
func kindOf(uri string) TrackKind {
	switch {
	case strings.HasPrefix(uri, "x-sonosapi-radio:"),
		strings.HasPrefix(uri, "x-sonosapi-stream:"),
		strings.HasPrefix(uri, "x-rincon-mp3radio:"):
		return KindRadio
	case strings.HasPrefix(uri, "x-rincon-stream:"):
		return KindLineIn
	default:
		return KindTrack
	}
}

// trackFromDIDL builds a Track from position-info metadata. It returns nil
// when the metadata carries nothing usable.
func trackFromDIDL(uri, metadata, duration string) *Track {
	if uri == "" || uri == "NOT_IMPLEMENTED" {
		return nil
	}
	track := &Track{URI: uri, Kind: kindOf(uri)}
	if secs, ok := didl.ParseDuration(duration); ok {
		track.DurationSecs = secs
	}
	if metadata != "" && metadata != "NOT_IMPLEMENTED" {
		if items := didl.ParseDIDL(metadata); len(items) > 0 {
			item := items[0]
			track.Title = item.Title
			track.Artist = item.Creator
			track.Album = item.Album
			track.AlbumArtURI = item.AlbumArtURI
			if track.Kind == KindRadio {
				track.StationName = item.Title
				if item.StreamContent != "" {
					track.Title = item.StreamContent
				}
			}
			if track.DurationSecs == 0 {
				if secs, ok := didl.ParseDuration(item.Duration); ok {
					track.DurationSecs = secs
				}
			}
		}
	}
	return track
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
