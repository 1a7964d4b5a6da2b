package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mboyle/zonehub/internal/soap"
)

func player(id, room, base string) *Player {
	return &Player{ID: id, RoomName: room, BaseURL: base, LastSeenAt: time.Now()}
}

func TestRegistryUpsertIsMonotonic(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.50:1400")))
	require.False(t, r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.50:1400")))
	require.Equal(t, 1, r.Len())

	// An IP change updates the record under the same UUID.
	require.False(t, r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.99:1400")))
	p, ok := r.ByID("RINCON_A")
	require.True(t, ok)
	require.Equal(t, "http://192.168.1.99:1400", p.BaseURL)
	require.Equal(t, 1, r.Len())
}

func TestRegistryByRoom(t *testing.T) {
	r := NewRegistry()
	r.Upsert(player("RINCON_B", "Den", "http://192.168.1.51:1400"))
	r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.50:1400"))

	players := r.ByRoom("kitchen")
	require.Len(t, players, 1)
	require.Equal(t, "RINCON_A", players[0].ID)

	require.Empty(t, r.ByRoom("Garage"))
}

func TestRegistryByRoomReturnsStereoPair(t *testing.T) {
	r := NewRegistry()
	r.Upsert(player("RINCON_B", "Kitchen", "http://192.168.1.51:1400"))
	r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.50:1400"))

	players := r.ByRoom("Kitchen")
	require.Len(t, players, 2)
	require.Equal(t, "RINCON_A", players[0].ID)
	require.Equal(t, "RINCON_B", players[1].ID)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Upsert(player("RINCON_A", "Kitchen", "http://192.168.1.50:1400"))

	p, ok := r.Resolve("RINCON_A")
	require.True(t, ok)
	require.Equal(t, "Kitchen", p.RoomName)

	p, ok = r.Resolve("Kitchen")
	require.True(t, ok)
	require.Equal(t, "RINCON_A", p.ID)
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Upsert(player("RINCON_C", "Office", ""))
	r.Upsert(player("RINCON_A", "Den", ""))
	r.Upsert(player("RINCON_B", "Den", ""))

	all := r.All()
	require.Len(t, all, 3)
	require.Equal(t, "RINCON_A", all[0].ID)
	require.Equal(t, "RINCON_B", all[1].ID)
	require.Equal(t, "Office", all[2].RoomName)
}

func TestPlayerServiceResolution(t *testing.T) {
	p := player("RINCON_A", "Kitchen", "http://192.168.1.50:1400")

	// No discovered descriptors: fall back to well-known paths.
	require.Equal(t, "http://192.168.1.50:1400/MediaRenderer/AVTransport/Control",
		p.ControlURL(soap.ServiceAVTransport))
	require.Equal(t, "/MediaRenderer/AVTransport/Event", p.EventPath(soap.ServiceAVTransport))
}

const scannerDeviceXML = `<root><device>
	<friendlyName>192.168.1.50 - Model One</friendlyName>
	<roomName>Kitchen</roomName>
	<modelName>Model One</modelName>
	<UDN>uuid:RINCON_SCAN1</UDN>
	<serviceList><service>
		<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
		<controlURL>/MediaRenderer/AVTransport/Control</controlURL>
		<eventSubURL>/MediaRenderer/AVTransport/Event</eventSubURL>
	</service></serviceList>
</device></root>`

func TestScannerAdopt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xml/device_description.xml", r.URL.Path)
		w.Write([]byte(scannerDeviceXML))
	}))
	defer server.Close()

	registry := NewRegistry()
	var found []*Player
	scanner := NewScanner(Config{}, registry, func(p *Player) { found = append(found, p) })

	p, isNew, err := scanner.Adopt(context.Background(), server.URL+"/xml/device_description.xml")
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, "RINCON_SCAN1", p.ID)
	require.Equal(t, "Kitchen", p.RoomName)
	require.Equal(t, server.URL, p.BaseURL)
	require.Len(t, found, 1)

	// Rediscovery of the same UUID does not re-fire the callback.
	_, isNew, err = scanner.Adopt(context.Background(), server.URL+"/xml/device_description.xml")
	require.NoError(t, err)
	require.False(t, isNew)
	require.Len(t, found, 1)
	require.Equal(t, 1, registry.Len())
}

func TestScannerAdoptRejectsMissingUDN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<root><device><roomName>Kitchen</roomName></device></root>`))
	}))
	defer server.Close()

	scanner := NewScanner(Config{}, NewRegistry(), nil)
	_, _, err := scanner.Adopt(context.Background(), server.URL+"/xml/device_description.xml")
	require.Error(t, err)
}

func TestParseSearchResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age = 1800\r\n" +
		"LOCATION: http://192.168.1.50:1400/xml/device_description.xml\r\n" +
		"ST: urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"USN: uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"\r\n"

	resp := parseSearchResponse(raw)
	require.Equal(t, "http://192.168.1.50:1400/xml/device_description.xml", resp.Location)
	require.Equal(t, "uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1", resp.USN)

	require.Empty(t, parseSearchResponse("HTTP/1.1 404 Not Found\r\n\r\n").Location)
}
