package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const stereoPairState = `<ZoneGroupState><ZoneGroups>
  <ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:12">
    <ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" ChannelMapSet="RINCON_A:LF,LF;RINCON_B:RF,RF"/>
    <ZoneGroupMember UUID="RINCON_B" ZoneName="Kitchen" Invisible="1" ChannelMapSet="RINCON_A:LF,LF;RINCON_B:RF,RF"/>
  </ZoneGroup>
  <ZoneGroup Coordinator="RINCON_C" ID="RINCON_C:7">
    <ZoneGroupMember UUID="RINCON_C" ZoneName="Den"/>
    <ZoneGroupMember UUID="RINCON_D" ZoneName="Office"/>
  </ZoneGroup>
</ZoneGroups></ZoneGroupState>`

const regroupedState = `<ZoneGroupState><ZoneGroups>
  <ZoneGroup Coordinator="RINCON_C" ID="RINCON_C:9">
    <ZoneGroupMember UUID="RINCON_C" ZoneName="Den"/>
  </ZoneGroup>
  <ZoneGroup Coordinator="RINCON_D" ID="RINCON_D:3">
    <ZoneGroupMember UUID="RINCON_D" ZoneName="Office"/>
  </ZoneGroup>
</ZoneGroups></ZoneGroupState>`

func TestApplyBuildsZones(t *testing.T) {
	m := NewManager(nil, nil)

	changed, err := m.Apply(stereoPairState)
	require.NoError(t, err)
	require.True(t, changed)

	zones := m.Zones()
	require.Len(t, zones, 2)
	require.Equal(t, "RINCON_A", zones[0].CoordinatorID)
	require.Len(t, zones[0].Members, 2)
	require.True(t, zones[0].Members[1].Invisible)

	require.True(t, m.IsCoordinator("RINCON_A"))
	require.False(t, m.IsCoordinator("RINCON_B"))
	require.False(t, m.IsCoordinator("RINCON_D"))

	coord, ok := m.CoordinatorOf("RINCON_D")
	require.True(t, ok)
	require.Equal(t, "RINCON_C", coord)

	require.Equal(t, []string{"RINCON_C", "RINCON_D"}, m.GroupMembers("RINCON_D"))
}

func TestApplyDeduplicatesByPayload(t *testing.T) {
	calls := 0
	m := NewManager(nil, func(previous, current []Zone) { calls++ })

	changed, err := m.Apply(stereoPairState)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = m.Apply(stereoPairState)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, calls)
}

func TestApplyReplacesWholesale(t *testing.T) {
	var gotPrevious, gotCurrent []Zone
	m := NewManager(nil, func(previous, current []Zone) {
		gotPrevious, gotCurrent = previous, current
	})

	_, err := m.Apply(stereoPairState)
	require.NoError(t, err)
	_, err = m.Apply(regroupedState)
	require.NoError(t, err)

	require.Len(t, gotPrevious, 2)
	require.Len(t, gotCurrent, 2)

	// The Kitchen pair is gone from the new payload, so it is gone here.
	_, ok := m.ZoneFor("RINCON_A")
	require.False(t, ok)
	require.True(t, m.IsCoordinator("RINCON_D"))
}

func TestRoomCoordinatorSkipsInvisible(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Apply(stereoPairState)
	require.NoError(t, err)

	coord, ok := m.RoomCoordinator("kitchen")
	require.True(t, ok)
	require.Equal(t, "RINCON_A", coord)

	coord, ok = m.RoomCoordinator("Office")
	require.True(t, ok)
	require.Equal(t, "RINCON_C", coord)

	_, ok = m.RoomCoordinator("Garage")
	require.False(t, ok)
}

func TestPairPrimary(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Apply(stereoPairState)
	require.NoError(t, err)

	primary, ok := m.PairPrimary("Kitchen")
	require.True(t, ok)
	require.Equal(t, "RINCON_A", primary)

	_, ok = m.PairPrimary("Den")
	require.False(t, ok)
}

func registryOf(rooms map[string]string) DeviceResolver {
	return func(id string) (string, bool) {
		room, ok := rooms[id]
		return room, ok
	}
}

func TestApplySkipsZoneWithUnknownCoordinator(t *testing.T) {
	m := NewManager(registryOf(map[string]string{
		"RINCON_A": "Kitchen",
		"RINCON_B": "Kitchen",
	}), nil)

	_, err := m.Apply(stereoPairState)
	require.NoError(t, err)

	// The Den/Office zone's coordinator is unregistered, so the zone drops.
	require.Len(t, m.Zones(), 1)
	_, ok := m.ZoneFor("RINCON_C")
	require.False(t, ok)
	require.True(t, m.IsCoordinator("RINCON_A"))
}

func TestApplyFiltersUnregisteredMembers(t *testing.T) {
	m := NewManager(registryOf(map[string]string{
		"RINCON_C": "Den",
	}), nil)

	_, err := m.Apply(stereoPairState)
	require.NoError(t, err)

	zones := m.Zones()
	require.Len(t, zones, 1)
	require.Equal(t, []string{"RINCON_C"}, m.GroupMembers("RINCON_C"))
	_, ok := m.ZoneFor("RINCON_D")
	require.False(t, ok)
}

func TestApplyReinsertsOmittedCoordinator(t *testing.T) {
	// The coordinator is absent from its own member list in the payload.
	const omitted = `<ZoneGroupState><ZoneGroups>
	  <ZoneGroup Coordinator="RINCON_C" ID="RINCON_C:7">
	    <ZoneGroupMember UUID="RINCON_D" ZoneName="Office"/>
	  </ZoneGroup>
	</ZoneGroups></ZoneGroupState>`

	m := NewManager(registryOf(map[string]string{
		"RINCON_C": "Den",
		"RINCON_D": "Office",
	}), nil)

	_, err := m.Apply(omitted)
	require.NoError(t, err)

	require.True(t, m.IsCoordinator("RINCON_C"))
	zone, ok := m.ZoneFor("RINCON_C")
	require.True(t, ok)
	require.Len(t, zone.Members, 2)

	coord, ok := m.CoordinatorOf("RINCON_D")
	require.True(t, ok)
	require.Equal(t, "RINCON_C", coord)
}

func TestApplyReresolvesWhenRegistryCatchesUp(t *testing.T) {
	rooms := map[string]string{
		"RINCON_C": "Den",
	}
	m := NewManager(registryOf(rooms), nil)

	_, err := m.Apply(regroupedState)
	require.NoError(t, err)
	require.Len(t, m.Zones(), 1)

	// The identical payload is not deduped while devices were unresolved.
	rooms["RINCON_D"] = "Office"
	changed, err := m.Apply(regroupedState)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, m.Zones(), 2)

	changed, err = m.Apply(regroupedState)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestQueriesBeforeFirstApply(t *testing.T) {
	m := NewManager(nil, nil)
	require.Empty(t, m.Zones())
	require.False(t, m.IsCoordinator("RINCON_A"))
	_, ok := m.ZoneFor("RINCON_A")
	require.False(t, ok)
	require.Nil(t, m.GroupMembers("RINCON_A"))
}
