package server

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wyrmforge/gameserver/internal/netio"
	"github.com/wyrmforge/gameserver/internal/testtls"
)

func newTestTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	cert := testtls.GenerateCert(t)
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func TestSpawnBindFailureIsSynchronous(t *testing.T) {
	kp, err := netio.NewKeypair()
	require.NoError(t, err)

	// Bind once, then try to bind the exact same address again so the
	// second Spawn observes an address-in-use failure synchronously.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := Config{ListenAddr: listener.Addr().String(), TLSConfig: newTestTLSConfig(t), MOTD: "test"}
	_, err = Spawn(cfg, kp, zerolog.Nop())
	require.Error(t, err)
}

func TestAcceptorPingSnapshotAndGameSnapshot(t *testing.T) {
	kp, err := netio.NewKeypair()
	require.NoError(t, err)

	cfg := Config{
		ListenAddr: "127.0.0.1:0",
		TLSConfig:  newTestTLSConfig(t),
		MOTD:       "hello",
		SeedRooms:  []SeedRoom{{ID: 1, Name: "arena"}, {ID: 2, Name: "lobby"}},
	}
	a := New(cfg, kp, zerolog.Nop())

	status := a.PingSnapshot()
	require.Equal(t, uint32(0), status.Players)
	require.Equal(t, uint32(2), status.Games)
	require.Contains(t, status.Status, "hello")

	games := a.GameSnapshot()
	require.Len(t, games, 2)

	a.roomsMu.RLock()
	for _, h := range a.rooms {
		h.Stop()
	}
	a.roomsMu.RUnlock()
}

func TestAcceptorGetGamesEmptyWithoutSeedRooms(t *testing.T) {
	kp, err := netio.NewKeypair()
	require.NoError(t, err)

	cfg := Config{ListenAddr: "127.0.0.1:0", TLSConfig: newTestTLSConfig(t), MOTD: "hello"}
	handle, err := Spawn(cfg, kp, zerolog.Nop())
	require.NoError(t, err)
	defer handle.Stop()

	games := handle.GetGames()
	require.Empty(t, games)
}

func TestAcceptorStopIsIdempotentAndConverges(t *testing.T) {
	kp, err := netio.NewKeypair()
	require.NoError(t, err)

	cfg := Config{ListenAddr: "127.0.0.1:0", TLSConfig: newTestTLSConfig(t), MOTD: "hello"}
	handle, err := Spawn(cfg, kp, zerolog.Nop())
	require.NoError(t, err)

	handle.Stop()
	handle.Stop()

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor did not converge on shutdown")
	}
}
