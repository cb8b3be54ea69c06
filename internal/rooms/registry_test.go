package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoom(t *testing.T) {
	tcases := []struct {
		name   string
		room   string
		ns     Namespace
		id     string
		parsed bool
	}{
		{name: "workspace", room: WorkspaceRoom("w1"), ns: NamespaceWorkspace, id: "w1", parsed: true},
		{name: "channel", room: ChannelRoom("c1"), ns: NamespaceChannel, id: "c1", parsed: true},
		{name: "user", room: UserRoom("u1"), ns: NamespaceUser, id: "u1", parsed: true},
		{name: "unknown namespace", room: "thread:t1", parsed: false},
		{name: "missing id", room: "user:", parsed: false},
		{name: "no separator", room: "lobby", parsed: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ns, id, ok := ParseRoom(tc.room)
			assert.Equal(t, tc.parsed, ok)
			assert.Equal(t, tc.ns, ns)
			assert.Equal(t, tc.id, id)
		})
	}
}

func TestRegistry_JoinIdempotent(t *testing.T) {
	r := NewRegistry()
	room := ChannelRoom("c1")

	assert.True(t, r.Join("conn1", room), "expected first join to add the connection")
	assert.False(t, r.Join("conn1", room), "expected second join to be a no-op")
	assert.Equal(t, []string{"conn1"}, r.MembersOf(room))

	assert.True(t, r.Leave("conn1", room))
	assert.NotContains(t, r.MembersOf(room), "conn1", "expected connection to be absent after a single leave")
	assert.Empty(t, r.RoomsOf("conn1"))
	assert.Equal(t, 0, r.Len(), "expected empty room to be deleted")
}

func TestRegistry_LeaveIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Leave("conn1", ChannelRoom("missing")), "expected leaving an unknown room to be a no-op")

	r.Join("conn1", ChannelRoom("c1"))
	r.Join("conn2", ChannelRoom("c1"))
	assert.True(t, r.Leave("conn1", ChannelRoom("c1")))
	assert.False(t, r.Leave("conn1", ChannelRoom("c1")))
	assert.Equal(t, []string{"conn2"}, r.MembersOf(ChannelRoom("c1")))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_MembersOfUnknownRoom(t *testing.T) {
	r := NewRegistry()
	members := r.MembersOf(ChannelRoom("nope"))
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestRegistry_LeaveAll(t *testing.T) {
	r := NewRegistry()
	r.Join("conn1", UserRoom("u1"))
	r.Join("conn1", WorkspaceRoom("w1"))
	r.Join("conn1", ChannelRoom("c1"))
	r.Join("conn2", ChannelRoom("c1"))

	vacated := r.LeaveAll("conn1")
	assert.ElementsMatch(t, []string{UserRoom("u1"), WorkspaceRoom("w1"), ChannelRoom("c1")}, vacated)
	assert.Empty(t, r.RoomsOf("conn1"))
	assert.Empty(t, r.MembersOf(UserRoom("u1")))
	assert.Equal(t, []string{"conn2"}, r.MembersOf(ChannelRoom("c1")))
	assert.Equal(t, 1, r.Len())

	assert.Empty(t, r.LeaveAll("conn1"), "expected second LeaveAll to vacate nothing")
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	room := ChannelRoom("busy")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn%d", i)
			for j := range 20 {
				r.Join(conn, room)
				r.Join(conn, ChannelRoom(fmt.Sprintf("c%d", j)))
				r.MembersOf(room)
			}
			if i%2 == 0 {
				r.LeaveAll(conn)
			}
		}(i)
	}
	wg.Wait()

	members := r.MembersOf(room)
	assert.Len(t, members, 25)
	for _, conn := range members {
		assert.Contains(t, r.RoomsOf(conn), room, "expected both indexes to agree for %s", conn)
	}
}
