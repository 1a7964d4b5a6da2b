package gena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeout(t *testing.T) {
	require.Equal(t, 300, ParseTimeout("Second-300"))
	require.Equal(t, 86400, ParseTimeout("infinite"))
	require.Equal(t, 3600, ParseTimeout("garbage"))
}

func TestParsePropertySet(t *testing.T) {
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
		<e:property><LastChange>&lt;Event&gt;&lt;/Event&gt;</LastChange></e:property>
		<e:property><SinkProtocolInfo>http-get</SinkProtocolInfo></e:property>
	</e:propertyset>`

	props := ParsePropertySet([]byte(body))
	require.Equal(t, "<Event></Event>", props["LastChange"])
	require.Equal(t, "http-get", props["SinkProtocolInfo"])
}

func TestParseAVTransportChange(t *testing.T) {
	payload := `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/">
		<InstanceID val="0">
			<TransportState val="PLAYING"/>
			<CurrentPlayMode val="SHUFFLE"/>
			<NumberOfTracks val="12"/>
			<CurrentTrack val="3"/>
			<CurrentTrackURI val="x-file-cifs://nas/a.flac"/>
			<CurrentTrackDuration val="0:03:12"/>
			<AVTransportURI val="x-rincon-queue:RINCON_A#0"/>
		</InstanceID>
	</Event>`

	change, err := ParseAVTransportChange(payload)
	require.NoError(t, err)
	require.Equal(t, "PLAYING", change.TransportState)
	require.Equal(t, "SHUFFLE", change.CurrentPlayMode)
	require.Equal(t, "12", change.NumberOfTracks)
	require.Equal(t, "3", change.CurrentTrack)
	require.Equal(t, "x-file-cifs://nas/a.flac", change.CurrentTrackURI)
	require.Equal(t, "0:03:12", change.CurrentTrackDuration)
	require.Equal(t, "x-rincon-queue:RINCON_A#0", change.AVTransportURI)
}

func TestParseRenderingChange(t *testing.T) {
	payload := `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/">
		<InstanceID val="0">
			<Volume channel="Master" val="25"/>
			<Volume channel="LF" val="100"/>
			<Volume channel="RF" val="100"/>
			<Mute channel="Master" val="1"/>
		</InstanceID>
	</Event>`

	change, err := ParseRenderingChange(payload)
	require.NoError(t, err)
	require.Equal(t, 25, change.Volume["Master"])
	require.Equal(t, 100, change.Volume["LF"])
	require.True(t, change.Mute["Master"])
	_, ok := change.Mute["LF"]
	require.False(t, ok)
}

func TestParseRenderingChangeDefaultsChannel(t *testing.T) {
	payload := `<Event><InstanceID val="0"><Volume val="40"/><Mute val="0"/></InstanceID></Event>`
	change, err := ParseRenderingChange(payload)
	require.NoError(t, err)
	require.Equal(t, 40, change.Volume["Master"])
	require.False(t, change.Mute["Master"])
}
