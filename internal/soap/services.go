package soap

// Service identifies a UPnP service on a player.
type Service string

const (
	ServiceAVTransport           Service = "AVTransport"
	ServiceRenderingControl      Service = "RenderingControl"
	ServiceGroupRenderingControl Service = "GroupRenderingControl"
	ServiceContentDirectory      Service = "ContentDirectory"
	ServiceZoneGroupTopology     Service = "ZoneGroupTopology"
	ServiceDeviceProperties      Service = "DeviceProperties"
)

var serviceTypes = map[Service]string{
	ServiceAVTransport:           "urn:schemas-upnp-org:service:AVTransport:1",
	ServiceRenderingControl:      "urn:schemas-upnp-org:service:RenderingControl:1",
	ServiceGroupRenderingControl: "urn:schemas-upnp-org:service:GroupRenderingControl:1",
	ServiceContentDirectory:      "urn:schemas-upnp-org:service:ContentDirectory:1",
	ServiceZoneGroupTopology:     "urn:schemas-upnp-org:service:ZoneGroupTopology:1",
	ServiceDeviceProperties:      "urn:schemas-upnp-org:service:DeviceProperties:1",
}

// Built-in fallback paths. Discovered paths from the device description
// take precedence; these cover devices whose description omitted a service.
var controlPaths = map[Service]string{
	ServiceAVTransport:           "/MediaRenderer/AVTransport/Control",
	ServiceRenderingControl:      "/MediaRenderer/RenderingControl/Control",
	ServiceGroupRenderingControl: "/MediaRenderer/GroupRenderingControl/Control",
	ServiceContentDirectory:      "/MediaServer/ContentDirectory/Control",
	ServiceZoneGroupTopology:     "/ZoneGroupTopology/Control",
	ServiceDeviceProperties:      "/DeviceProperties/Control",
}

var eventPaths = map[Service]string{
	ServiceAVTransport:           "/MediaRenderer/AVTransport/Event",
	ServiceRenderingControl:      "/MediaRenderer/RenderingControl/Event",
	ServiceGroupRenderingControl: "/MediaRenderer/GroupRenderingControl/Event",
	ServiceContentDirectory:      "/MediaServer/ContentDirectory/Event",
	ServiceZoneGroupTopology:     "/ZoneGroupTopology/Event",
	ServiceDeviceProperties:      "/DeviceProperties/Event",
}

// ServiceType returns the URN for a service.
func ServiceType(service Service) string {
	return serviceTypes[service]
}

// DefaultControlPath returns the built-in control path for a service.
func DefaultControlPath(service Service) string {
	return controlPaths[service]
}

// DefaultEventPath returns the built-in event subscription path for a service.
func DefaultEventPath(service Service) string {
	return eventPaths[service]
}
