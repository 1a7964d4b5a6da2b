package didl

import (
	"encoding/xml"
	"strings"
)

// ServiceInfo is a per-player record of a UPnP service, populated once from
// the device description and immutable afterwards.
type ServiceInfo struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// DeviceDescription is the parsed root device description.
type DeviceDescription struct {
	UDN         string
	RoomName    string
	ModelName   string
	ModelNumber string
	Services    []ServiceInfo
}

// ParseDeviceDescription extracts identity and service descriptors from a
// device description document. Services of the root and embedded devices are
// flattened into a single list; the first UDN wins (the root device —
// embedded MediaServer/MediaRenderer devices carry suffixed UDNs).
func ParseDeviceDescription(payload []byte) (*DeviceDescription, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(payload)))
	desc := &DeviceDescription{}

	var friendlyName string
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
		case "friendlyName":
			if friendlyName == "" {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					friendlyName = strings.TrimSpace(value)
				}
			}
		case "modelName":
			if desc.ModelName == "" {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					desc.ModelName = strings.TrimSpace(value)
				}
			}
		case "modelNumber":
			if desc.ModelNumber == "" {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					desc.ModelNumber = strings.TrimSpace(value)
				}
			}
		case "roomName":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				desc.RoomName = strings.TrimSpace(value)
			}
		case "UDN":
			if desc.UDN == "" {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					desc.UDN = strings.TrimPrefix(strings.TrimSpace(value), "uuid:")
				}
			}
		case "service":
			var svc ServiceInfo
			if err := decoder.DecodeElement(&svc, &se); err == nil {
				svc.ServiceType = strings.TrimSpace(svc.ServiceType)
				svc.ControlURL = strings.TrimSpace(svc.ControlURL)
				svc.EventSubURL = strings.TrimSpace(svc.EventSubURL)
				desc.Services = append(desc.Services, svc)
			}
		}
	}

	if desc.RoomName == "" && friendlyName != "" {
		desc.RoomName = roomFromFriendlyName(friendlyName)
	}

	return desc, nil
}

// roomFromFriendlyName strips the "IP - Model" decoration some firmware
// versions put in friendlyName, leaving the room name.
func roomFromFriendlyName(friendlyName string) string {
	parts := strings.SplitN(friendlyName, "-", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(friendlyName)
}
