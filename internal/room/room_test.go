package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wyrmforge/gameserver/internal/netio"
)

func TestRoomJoinLeavePlayerCount(t *testing.T) {
	h := New(1, "lobby").Spawn()
	defer h.Stop()

	require.Equal(t, 0, h.PlayerCount())

	p1 := &netio.SenderHandle{}
	p2 := &netio.SenderHandle{}

	h.Join(p1)
	h.Join(p2)
	require.Equal(t, 2, h.PlayerCount())

	h.Leave(p1)
	require.Equal(t, 1, h.PlayerCount())

	// Leaving twice is a no-op.
	h.Leave(p1)
	require.Equal(t, 1, h.PlayerCount())
}

func TestRoomStopIsIdempotentAndUnblocksWaiters(t *testing.T) {
	h := New(2, "arena").Spawn()
	h.Stop()
	h.Stop()

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("room actor did not exit")
	}
}

func TestRoomInfoIsImmutable(t *testing.T) {
	h := New(42, "proving-grounds").Spawn()
	defer h.Stop()
	require.Equal(t, Info{ID: 42, Name: "proving-grounds"}, h.Info)
}
