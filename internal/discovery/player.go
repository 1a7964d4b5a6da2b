package discovery

import (
	"strings"
	"time"

	"github.com/mboyle/zonehub/internal/didl"
	"github.com/mboyle/zonehub/internal/soap"
)

// Player is one discovered device. It is created from a device description
// and updated in place on rediscovery; identity is the device UUID, which
// survives IP changes.
type Player struct {
	ID          string             `json:"id"`
	RoomName    string             `json:"roomName"`
	ModelName   string             `json:"modelName,omitempty"`
	ModelNumber string             `json:"modelNumber,omitempty"`
	BaseURL     string             `json:"baseURL"`
	Location    string             `json:"location"`
	Services    []didl.ServiceInfo `json:"-"`
	LastSeenAt  time.Time          `json:"lastSeenAt"`
}

// serviceInfo returns the discovered descriptor whose type matches the
// service, if the device description carried one.
func (p *Player) serviceInfo(svc soap.Service) (didl.ServiceInfo, bool) {
	want := soap.ServiceType(svc)
	for _, info := range p.Services {
		if info.ServiceType == want {
			return info, true
		}
	}
	return didl.ServiceInfo{}, false
}

// ControlURL returns the full control endpoint for a service, preferring the
// URL from the device description over the well-known default path.
func (p *Player) ControlURL(svc soap.Service) string {
	if info, ok := p.serviceInfo(svc); ok && info.ControlURL != "" {
		return p.BaseURL + ensureLeadingSlash(info.ControlURL)
	}
	return p.BaseURL + soap.DefaultControlPath(svc)
}

// EventPath returns the event subscription path for a service, preferring
// the path from the device description.
func (p *Player) EventPath(svc soap.Service) string {
	if info, ok := p.serviceInfo(svc); ok && info.EventSubURL != "" {
		return ensureLeadingSlash(info.EventSubURL)
	}
	return soap.DefaultEventPath(svc)
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
