package didl

import (
	"encoding/xml"
	"strings"
)

// ZoneGroupsDoc is the parsed ZoneGroupState topology document.
type ZoneGroupsDoc struct {
	Groups []ZoneGroup
}

// ZoneGroup is one group in the topology document.
type ZoneGroup struct {
	ID          string
	Coordinator string
	Members     []ZoneMember
}

// ZoneMember is one member entry of a group.
type ZoneMember struct {
	UUID            string
	ZoneName        string
	Location        string
	ChannelMapSet   string
	HTSatChanMapSet string
	Invisible       bool
	IsSatellite     bool
	IsSubwoofer     bool
}

// ParseZoneGroupState parses a ZoneGroupState document. The input is the
// already-unescaped XML; callers extracting it from an event envelope or a
// SOAP response decode the entity encoding first.
func ParseZoneGroupState(payload string) (*ZoneGroupsDoc, error) {
	decoder := xml.NewDecoder(strings.NewReader(payload))
	doc := &ZoneGroupsDoc{}
	var current *ZoneGroup

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "ZoneGroup":
			group := ZoneGroup{}
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "ID":
					group.ID = attr.Value
				case "Coordinator":
					group.Coordinator = attr.Value
				}
			}
			doc.Groups = append(doc.Groups, group)
			current = &doc.Groups[len(doc.Groups)-1]
		case "ZoneGroupMember":
			if current == nil {
				continue
			}
			current.Members = append(current.Members, parseMember(se))
		case "Satellite":
			if current == nil {
				continue
			}
			sat := parseMember(se)
			if strings.Contains(sat.HTSatChanMapSet, ":SW") {
				sat.IsSubwoofer = true
			}
			if strings.Contains(sat.HTSatChanMapSet, ":LR") || strings.Contains(sat.HTSatChanMapSet, ":RR") {
				sat.IsSatellite = true
			}
			if sat.UUID != "" {
				current.Members = append(current.Members, sat)
			}
		}
	}

	return doc, nil
}

func parseMember(se xml.StartElement) ZoneMember {
	member := ZoneMember{}
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "UUID":
			member.UUID = attr.Value
		case "ZoneName":
			member.ZoneName = attr.Value
		case "Location":
			member.Location = attr.Value
		case "ChannelMapSet":
			member.ChannelMapSet = attr.Value
		case "HTSatChanMapSet":
			member.HTSatChanMapSet = attr.Value
		case "Invisible":
			member.Invisible = attr.Value == "1" || strings.EqualFold(attr.Value, "true")
		}
	}
	return member
}

// StereoPairPrimary returns the UUID appearing before ":LF" in a channel-map
// string, or empty when the map does not name an LF channel. Channel maps
// look like "RINCON_A:LF,LF;RINCON_B:RF,RF".
func StereoPairPrimary(channelMap string) string {
	for _, entry := range strings.Split(channelMap, ";") {
		idx := strings.Index(entry, ":")
		if idx <= 0 {
			continue
		}
		if strings.HasPrefix(entry[idx+1:], "LF") {
			return entry[:idx]
		}
	}
	return ""
}
