package player

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/hub"
	"github.com/mboyle/zonehub/internal/soap"
	"github.com/mboyle/zonehub/internal/topology"
)

// fakeDevice answers SOAP control calls, recording each action and its
// request body so tests can assert call order and arguments.
type fakeDevice struct {
	mu     sync.Mutex
	calls  []fakeCall
	faults map[string][]int          // per-action queue of fault codes
	out    map[string]map[string]string // per-action response values
	volume int
	mute   bool
	srv    *httptest.Server
}

type fakeCall struct {
	action string
	body   []byte
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{
		faults: make(map[string][]int),
		out:    make(map[string]map[string]string),
	}
	d.srv = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

func (d *fakeDevice) handle(w http.ResponseWriter, r *http.Request) {
	soapAction := strings.Trim(r.Header.Get("SOAPACTION"), "\"")
	action := soapAction[strings.Index(soapAction, "#")+1:]

	body, _ := io.ReadAll(r.Body)

	d.mu.Lock()
	d.calls = append(d.calls, fakeCall{action: action, body: body})

	if codes := d.faults[action]; len(codes) > 0 {
		code := codes[0]
		d.faults[action] = codes[1:]
		d.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>`+
			`<detail><UPnPError><errorCode>%d</errorCode></UPnPError></detail>`+
			`</s:Fault></s:Body></s:Envelope>`, code)
		return
	}

	values := map[string]string{}
	for k, v := range d.out[action] {
		values[k] = v
	}
	switch action {
	case "SetVolume":
		fmt.Sscanf(soap.ExtractValue(body, "DesiredVolume"), "%d", &d.volume)
	case "GetVolume":
		values["CurrentVolume"] = fmt.Sprintf("%d", d.volume)
	case "SetMute":
		d.mute = soap.ExtractValue(body, "DesiredMute") == "1"
	case "GetMute":
		if d.mute {
			values["CurrentMute"] = "1"
		} else {
			values["CurrentMute"] = "0"
		}
	}
	d.mu.Unlock()

	fmt.Fprintf(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:%sResponse xmlns:u="x">`, action)
	for name, value := range values {
		fmt.Fprintf(w, "<%s>%s</%s>", name, escapeXML(value), name)
	}
	fmt.Fprintf(w, `</u:%sResponse></s:Body></s:Envelope>`, action)
}

func escapeXML(value string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(value))
	return b.String()
}

func (d *fakeDevice) actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.calls))
	for i, call := range d.calls {
		names[i] = call.action
	}
	return names
}

func (d *fakeDevice) arg(callIndex int, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return soap.ExtractValue(d.calls[callIndex].body, name)
}

type fixture struct {
	device *fakeDevice
	ctrl   *Controller
	events *hub.Hub
	topo   *topology.Manager
	reg    *discovery.Registry
}

const testPlayerID = "RINCON_TEST"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	device := newFakeDevice()
	t.Cleanup(device.srv.Close)

	reg := discovery.NewRegistry()
	reg.Upsert(&discovery.Player{ID: testPlayerID, RoomName: "Kitchen", BaseURL: device.srv.URL})

	topo := topology.NewManager(nil, nil)
	_, err := topo.Apply(`<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_TEST" ID="RINCON_TEST:1">` +
		`<ZoneGroupMember UUID="RINCON_TEST" ZoneName="Kitchen"/>` +
		`</ZoneGroup></ZoneGroups></ZoneGroupState>`)
	require.NoError(t, err)

	events := hub.New()
	t.Cleanup(events.Close)

	ctrl := NewController(soap.NewClient(2*time.Second), reg, topo, events)
	ctrl.settleDelay = 5 * time.Millisecond
	ctrl.retryDelay = 5 * time.Millisecond
	ctrl.topoPollStep = 2 * time.Millisecond
	ctrl.topoPollMax = 6 * time.Millisecond

	return &fixture{device: device, ctrl: ctrl, events: events, topo: topo, reg: reg}
}

func TestPlayModeRoundTrip(t *testing.T) {
	cases := []struct {
		shuffle bool
		repeat  Repeat
		mode    string
	}{
		{false, RepeatNone, "NORMAL"},
		{false, RepeatAll, "REPEAT_ALL"},
		{false, RepeatOne, "REPEAT_ONE"},
		{true, RepeatNone, "SHUFFLE_NOREPEAT"},
		{true, RepeatAll, "SHUFFLE"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.mode, EncodePlayMode(tc.shuffle, tc.repeat), tc.mode)
		shuffle, repeat := DecodePlayMode(tc.mode)
		require.Equal(t, tc.shuffle, shuffle, tc.mode)
		require.Equal(t, tc.repeat, repeat, tc.mode)
	}

	// Shuffle with repeat-one has no wire encoding; the repeat drops.
	require.Equal(t, "SHUFFLE_NOREPEAT", EncodePlayMode(true, RepeatOne))
}

func TestClassifyURI(t *testing.T) {
	require.Equal(t, ClassLibraryPlaylist, ClassifyURI("x-rincon-playlist:RINCON_X#S:7"))
	require.Equal(t, ClassQueueContainer, ClassifyURI("x-rincon-cpcontainer:1006206c"))
	require.Equal(t, ClassGroupMember, ClassifyURI("x-rincon:RINCON_X"))
	require.Equal(t, ClassDirect, ClassifyURI("x-sonosapi-stream:s1234?sid=254"))
	require.Equal(t, ClassDirect, ClassifyURI("https://example.test/a.mp3"))
}

func TestSetVolumeClampsAndEmits(t *testing.T) {
	fx := newFixture(t)
	fx.device.volume = 20

	// Seed the cache so the next change produces a diff.
	_, err := fx.ctrl.GetVolume(context.Background(), "Kitchen")
	require.NoError(t, err)

	_, ch := fx.events.Subscribe(16, hub.TypeVolume)

	require.NoError(t, fx.ctrl.SetVolume(context.Background(), "Kitchen", 150))
	require.Equal(t, "100", fx.device.arg(1, "DesiredVolume"))

	select {
	case evt := <-ch:
		change := evt.Data.(hub.VolumeChange)
		require.Equal(t, 20, change.Previous)
		require.Equal(t, 100, change.Current)
		require.Equal(t, testPlayerID, evt.PlayerID)
	case <-time.After(time.Second):
		t.Fatal("no volume event")
	}
}

func TestPlayDirectSequenceWithRetry(t *testing.T) {
	fx := newFixture(t)
	fx.device.faults["Play"] = []int{soap.CodeContentNotReady}

	err := fx.ctrl.PlayURI(context.Background(), "Kitchen", "https://example.test/stream.mp3", "")
	require.NoError(t, err)

	require.Equal(t, []string{"Stop", "SetAVTransportURI", "Play", "Play"}, fx.device.actions())
	require.Equal(t, "https://example.test/stream.mp3", fx.device.arg(1, "CurrentURI"))
}

func TestPlayDirectGivesUpAfterSecond701(t *testing.T) {
	fx := newFixture(t)
	fx.device.faults["Play"] = []int{soap.CodeContentNotReady, soap.CodeContentNotReady}

	err := fx.ctrl.PlayURI(context.Background(), "Kitchen", "x-sonosapi-stream:s1234?sid=254", "")
	require.Error(t, err)
	require.True(t, soap.IsFaultCode(err, soap.CodeContentNotReady))
	require.Equal(t, []string{"Stop", "SetAVTransportURI", "Play", "Play"}, fx.device.actions())
}

func TestPlayLibraryPlaylist(t *testing.T) {
	fx := newFixture(t)
	fx.device.out["Browse"] = map[string]string{
		"Result": `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
			`<item id="S:7/a" parentID="S:7"><dc:title>One</dc:title><res>x-file-cifs://nas/a.flac</res></item>` +
			`<item id="S:7/b" parentID="S:7"><dc:title>Two</dc:title><res>x-file-cifs://nas/b.flac</res></item>` +
			`</DIDL-Lite>`,
		"NumberReturned": "2",
		"TotalMatches":   "2",
	}
	fx.device.out["AddURIToQueue"] = map[string]string{"FirstTrackNumberEnqueued": "1"}

	err := fx.ctrl.PlayURI(context.Background(), "Kitchen", "x-rincon-playlist:RINCON_TEST#S:7", "")
	require.NoError(t, err)

	require.Equal(t, []string{
		"RemoveAllTracksFromQueue",
		"Browse",
		"AddURIToQueue",
		"AddURIToQueue",
		"SetAVTransportURI",
		"Play",
	}, fx.device.actions())

	require.Equal(t, "S:7", fx.device.arg(1, "ObjectID"))
	require.Equal(t, "x-file-cifs://nas/a.flac", fx.device.arg(2, "EnqueuedURI"))
	require.Equal(t, "x-file-cifs://nas/b.flac", fx.device.arg(3, "EnqueuedURI"))
	require.Equal(t, QueueURI(testPlayerID), fx.device.arg(4, "CurrentURI"))
}

func TestPlayQueueContainer(t *testing.T) {
	fx := newFixture(t)
	fx.device.out["AddURIToQueue"] = map[string]string{"FirstTrackNumberEnqueued": "1"}

	err := fx.ctrl.PlayURI(context.Background(), "Kitchen",
		"x-rincon-cpcontainer:1006206clibrary", `<DIDL-Lite><item id="x"/></DIDL-Lite>`)
	require.NoError(t, err)

	require.Equal(t, []string{
		"RemoveAllTracksFromQueue",
		"AddURIToQueue",
		"SetAVTransportURI",
		"Play",
	}, fx.device.actions())
}

func TestGroupVolumeFallsBackToMemberVolume(t *testing.T) {
	fx := newFixture(t)
	fx.device.faults["SetGroupVolume"] = []int{402}

	require.NoError(t, fx.ctrl.SetGroupVolume(context.Background(), "Kitchen", 30))

	actions := fx.device.actions()
	require.Equal(t, "SetGroupVolume", actions[0])
	require.Contains(t, actions, "SetVolume")
	fx.device.mu.Lock()
	volume := fx.device.volume
	fx.device.mu.Unlock()
	require.Equal(t, 30, volume)
}

func TestSeekValidation(t *testing.T) {
	fx := newFixture(t)

	err := fx.ctrl.SeekTrack(context.Background(), "Kitchen", 0)
	require.Error(t, err)
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.Ensure(err).Kind)

	err = fx.ctrl.SeekTime(context.Background(), "Kitchen", "ninety seconds")
	require.Error(t, err)
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.Ensure(err).Kind)

	// Invalid input never reaches the device.
	require.Empty(t, fx.device.actions())
}

func TestBecomeCoordinatorToleratesStereoSecondary(t *testing.T) {
	fx := newFixture(t)
	fx.device.faults["BecomeCoordinatorOfStandaloneGroup"] = []int{soap.CodeInvalidRole}

	require.NoError(t, fx.ctrl.BecomeCoordinator(context.Background(), "Kitchen"))
}

func TestUpdateStateSnapshot(t *testing.T) {
	fx := newFixture(t)
	fx.device.volume = 25
	fx.device.out["GetTransportInfo"] = map[string]string{"CurrentTransportState": "PAUSED_PLAYBACK"}
	fx.device.out["GetPositionInfo"] = map[string]string{
		"TrackURI":      "x-file-cifs://nas/a.flac",
		"TrackDuration": "0:03:25",
		"TrackMetaData": `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
			`<item id="-1"><dc:title>One</dc:title></item></DIDL-Lite>`,
	}

	_, err := fx.ctrl.StateOf("Kitchen")
	require.Error(t, err)
	require.Equal(t, apperrors.KindUnavailable, apperrors.Ensure(err).Kind)

	state, err := fx.ctrl.UpdateState(context.Background(), "Kitchen")
	require.NoError(t, err)
	require.Equal(t, "PAUSED", state.Transport)
	require.Equal(t, 25, state.Volume)
	require.False(t, state.Mute)
	require.NotNil(t, state.Track)
	require.Equal(t, "One", state.Track.Title)
	require.Equal(t, 205, state.Track.DurationSecs)
	require.Equal(t, KindTrack, state.Track.Kind)
}

func TestStateChangeDetection(t *testing.T) {
	fx := newFixture(t)
	p, _ := fx.reg.ByID(testPlayerID)

	_, ch := fx.events.Subscribe(16, hub.TypeDeviceState)

	// First observation seeds the cache without emitting.
	fx.ctrl.applyState(p, func(s *State) { s.Transport = "STOPPED"; s.Volume = 12 })
	// Identical tuple: still nothing.
	fx.ctrl.applyState(p, func(s *State) { s.Transport = "STOPPED"; s.Volume = 12 })
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	fx.ctrl.applyState(p, func(s *State) { s.Transport = "PLAYING" })
	select {
	case evt := <-ch:
		change := evt.Data.(hub.StateChange)
		require.Equal(t, "STOPPED", change.Previous.(State).Transport)
		require.Equal(t, "PLAYING", change.Current.(State).Transport)
		// The event carries the whole snapshot, not just the transport.
		require.Equal(t, 12, change.Current.(State).Volume)
	case <-time.After(time.Second):
		t.Fatal("no state event")
	}
}

func notifyBody(lastChange string) []byte {
	return []byte(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">` +
		`<e:property><LastChange>` + escapeXML(lastChange) + `</LastChange></e:property>` +
		`</e:propertyset>`)
}

func TestHandleEventMergesChanges(t *testing.T) {
	fx := newFixture(t)

	fx.ctrl.HandleEvent(testPlayerID, string(soap.ServiceRenderingControl), notifyBody(
		`<Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/"><InstanceID val="0">`+
			`<Volume channel="Master" val="31"/><Mute channel="Master" val="0"/>`+
			`</InstanceID></Event>`))

	fx.ctrl.HandleEvent(testPlayerID, string(soap.ServiceAVTransport), notifyBody(
		`<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/"><InstanceID val="0">`+
			`<TransportState val="PAUSED_PLAYBACK"/>`+
			`<CurrentTrackURI val="x-sonosapi-stream:s1234?sid=254"/>`+
			`</InstanceID></Event>`))

	state, err := fx.ctrl.StateOf("Kitchen")
	require.NoError(t, err)
	require.Equal(t, 31, state.Volume)
	require.Equal(t, "PAUSED", state.Transport)
	require.NotNil(t, state.Track)
	require.Equal(t, KindRadio, state.Track.Kind)
}

func TestHandleEventIgnoresUnknownPlayer(t *testing.T) {
	fx := newFixture(t)
	fx.ctrl.HandleEvent("RINCON_NOBODY", string(soap.ServiceRenderingControl), notifyBody(`<Event/>`))
	require.Empty(t, fx.device.actions())
}

func TestPlayPresetGroupsMembers(t *testing.T) {
	fx := newFixture(t)
	member := newFakeDevice()
	t.Cleanup(member.srv.Close)
	fx.reg.Upsert(&discovery.Player{ID: "RINCON_DEN", RoomName: "Den", BaseURL: member.srv.URL})

	denVolume := 15
	err := fx.ctrl.PlayPreset(context.Background(), Preset{
		URI: "x-sonosapi-stream:s1234?sid=254",
		Players: []PresetPlayer{
			{Room: "Kitchen"},
			{Room: "Den", Volume: &denVolume},
		},
	})
	require.NoError(t, err)

	leadActions := fx.device.actions()
	require.Equal(t, "BecomeCoordinatorOfStandaloneGroup", leadActions[0])
	require.Contains(t, leadActions, "SetAVTransportURI")
	require.Contains(t, leadActions, "Play")

	memberActions := member.actions()
	require.Equal(t, "SetAVTransportURI", memberActions[0])
	require.Equal(t, "x-rincon:"+testPlayerID, member.arg(0, "CurrentURI"))
	require.Equal(t, "SetVolume", memberActions[1])
	require.Equal(t, "15", member.arg(1, "DesiredVolume"))
}

func TestPlayPresetRejectsEmptyPlayers(t *testing.T) {
	fx := newFixture(t)
	err := fx.ctrl.PlayPreset(context.Background(), Preset{URI: "x:y"})
	require.Error(t, err)
	require.Equal(t, apperrors.KindInvalidArgument, apperrors.Ensure(err).Kind)
}
