package didl

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Item is one entry of a DIDL-Lite document. Raw carries the original
// <item>…</item> fragment verbatim; queue operations need it back as
// metadata when enqueueing the item.
type Item struct {
	ID            string
	ParentID      string
	Title         string
	Creator       string
	Album         string
	AlbumArtURI   string
	Class         string
	StreamContent string
	URI           string
	ProtocolInfo  string
	Duration      string
	Raw           string
}

// ParseDIDL parses a DIDL-Lite document into items. Both <item> and
// <container> entries are returned; repeated elements beyond the first
// occurrence of a field are ignored.
func ParseDIDL(payload string) []Item {
	decoder := xml.NewDecoder(strings.NewReader(payload))
	var items []Item
	var current *Item
	var itemStart int64

	for {
		offset := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "item", "container":
				item := Item{}
				for _, attr := range se.Attr {
					switch attr.Name.Local {
					case "id":
						item.ID = attr.Value
					case "parentID":
						item.ParentID = attr.Value
					}
				}
				items = append(items, item)
				current = &items[len(items)-1]
				itemStart = offset
			case "title":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.Title = v })
			case "creator":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.Creator = v })
			case "album":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.Album = v })
			case "albumArtURI":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.AlbumArtURI = v })
			case "class":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.Class = v })
			case "streamContent":
				decodeInto(decoder, se, current, func(i *Item, v string) { i.StreamContent = v })
			case "res":
				if current == nil {
					continue
				}
				for _, attr := range se.Attr {
					switch attr.Name.Local {
					case "protocolInfo":
						current.ProtocolInfo = attr.Value
					case "duration":
						current.Duration = attr.Value
					}
				}
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil && current.URI == "" {
					current.URI = strings.TrimSpace(value)
				}
			}
		case xml.EndElement:
			if (se.Name.Local == "item" || se.Name.Local == "container") && current != nil {
				current.Raw = payload[itemStart:decoder.InputOffset()]
				current = nil
			}
		}
	}

	return items
}

func decodeInto(decoder *xml.Decoder, se xml.StartElement, current *Item, set func(*Item, string)) {
	if current == nil {
		// Consume the element so the decoder stays positioned.
		var discard string
		decoder.DecodeElement(&discard, &se)
		return
	}
	var value string
	if err := decoder.DecodeElement(&value, &se); err == nil {
		set(current, strings.TrimSpace(value))
	}
}

// ParseDuration converts an "H:MM:SS" duration to whole seconds. Empty and
// NOT_IMPLEMENTED values return ok=false.
func ParseDuration(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "NOT_IMPLEMENTED" {
		return 0, false
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	// Some renderers report fractional seconds ("0:03:12.330").
	secPart := parts[2]
	if dot := strings.Index(secPart, "."); dot >= 0 {
		secPart = secPart[:dot]
	}
	seconds, err := strconv.Atoi(secPart)
	if err != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}

// FormatDuration renders whole seconds as "H:MM:SS" for Seek targets.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return strconv.Itoa(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
