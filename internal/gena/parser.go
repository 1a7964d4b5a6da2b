package gena

import (
	"encoding/xml"
	"html"
	"strconv"
	"strings"
)

// ParseTimeout extracts the seconds from a TIMEOUT response header
// ("Second-300"). "infinite" maps to 24 hours so the renewal arithmetic
// never goes negative.
func ParseTimeout(header string) int {
	if strings.EqualFold(header, "infinite") {
		return 86400
	}
	header = strings.TrimPrefix(header, "Second-")
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 3600
}

// ParsePropertySet extracts the variables of a NOTIFY property set. Each
// <property> wraps exactly one variable element; the map is keyed by the
// variable's local name with its character data as value, still entity
// encoded when the device double-encodes (LastChange, ZoneGroupState).
func ParsePropertySet(body []byte) map[string]string {
	props := make(map[string]string)
	decoder := xml.NewDecoder(strings.NewReader(string(body)))

	inProperty := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "property" {
				inProperty = true
				continue
			}
			if inProperty {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					props[se.Name.Local] = value
				}
				inProperty = false
			}
		case xml.EndElement:
			if se.Name.Local == "property" {
				inProperty = false
			}
		}
	}
	return props
}

// Unescape decodes the entity encoding of a double-encoded event payload.
func Unescape(value string) string {
	return html.UnescapeString(value)
}

// AVTransportChange is the decoded AVTransport LastChange payload.
type AVTransportChange struct {
	TransportState         string
	CurrentPlayMode        string
	NumberOfTracks         string
	CurrentTrack           string
	CurrentTrackURI        string
	CurrentTrackDuration   string
	CurrentTrackMetaData   string
	AVTransportURI         string
	AVTransportURIMetaData string
	NextTrackURI           string
	NextTrackMetaData      string
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type avTransportInstance struct {
	TransportState         attrVal `xml:"TransportState"`
	CurrentPlayMode        attrVal `xml:"CurrentPlayMode"`
	NumberOfTracks         attrVal `xml:"NumberOfTracks"`
	CurrentTrack           attrVal `xml:"CurrentTrack"`
	CurrentTrackURI        attrVal `xml:"CurrentTrackURI"`
	CurrentTrackDuration   attrVal `xml:"CurrentTrackDuration"`
	CurrentTrackMetaData   attrVal `xml:"CurrentTrackMetaData"`
	AVTransportURI         attrVal `xml:"AVTransportURI"`
	AVTransportURIMetaData attrVal `xml:"AVTransportURIMetaData"`
	NextTrackURI           attrVal `xml:"NextTrackURI"`
	NextTrackMetaData      attrVal `xml:"NextTrackMetaData"`
}

type avTransportEvent struct {
	XMLName    xml.Name            `xml:"Event"`
	InstanceID avTransportInstance `xml:"InstanceID"`
}

// ParseAVTransportChange parses an already-unescaped AVTransport LastChange
// document.
func ParseAVTransportChange(payload string) (*AVTransportChange, error) {
	var evt avTransportEvent
	if err := xml.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, err
	}
	inst := evt.InstanceID
	return &AVTransportChange{
		TransportState:         inst.TransportState.Val,
		CurrentPlayMode:        inst.CurrentPlayMode.Val,
		NumberOfTracks:         inst.NumberOfTracks.Val,
		CurrentTrack:           inst.CurrentTrack.Val,
		CurrentTrackURI:        inst.CurrentTrackURI.Val,
		CurrentTrackDuration:   inst.CurrentTrackDuration.Val,
		CurrentTrackMetaData:   inst.CurrentTrackMetaData.Val,
		AVTransportURI:         inst.AVTransportURI.Val,
		AVTransportURIMetaData: inst.AVTransportURIMetaData.Val,
		NextTrackURI:           inst.NextTrackURI.Val,
		NextTrackMetaData:      inst.NextTrackMetaData.Val,
	}, nil
}

// RenderingChange is the decoded RenderingControl LastChange payload.
// Volume and mute are keyed by channel (Master, LF, RF).
type RenderingChange struct {
	Volume map[string]int
	Mute   map[string]bool
}

type channelVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

type renderingInstance struct {
	Volume []channelVal `xml:"Volume"`
	Mute   []channelVal `xml:"Mute"`
}

type renderingEvent struct {
	XMLName    xml.Name          `xml:"Event"`
	InstanceID renderingInstance `xml:"InstanceID"`
}

// ParseRenderingChange parses an already-unescaped RenderingControl
// LastChange document.
func ParseRenderingChange(payload string) (*RenderingChange, error) {
	var evt renderingEvent
	if err := xml.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, err
	}
	change := &RenderingChange{
		Volume: make(map[string]int),
		Mute:   make(map[string]bool),
	}
	for _, v := range evt.InstanceID.Volume {
		channel := v.Channel
		if channel == "" {
			channel = "Master"
		}
		if vol, err := strconv.Atoi(v.Val); err == nil {
			change.Volume[channel] = vol
		}
	}
	for _, m := range evt.InstanceID.Mute {
		channel := m.Channel
		if channel == "" {
			channel = "Master"
		}
		change.Mute[channel] = m.Val == "1"
	}
	return change, nil
}
