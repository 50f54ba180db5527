// Package server implements the acceptor: the top-level actor that owns
// the TCP listener, the shared TLS/RSA material, and the live connection
// registry.
package server

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wyrmforge/gameserver/internal/conn"
	"github.com/wyrmforge/gameserver/internal/netio"
	"github.com/wyrmforge/gameserver/internal/protocol"
	"github.com/wyrmforge/gameserver/internal/room"
)

// statusText is the JSON shape reported in a PingStatus's status field,
// matching the teacher's status-response Description.
type statusText struct {
	Text string `json:"text"`
}

// Config bundles the acceptor's startup parameters.
type Config struct {
	// ListenAddr is the address to bind, e.g. "127.0.0.1:25252".
	ListenAddr string
	// TLSConfig authenticates the server side of every accepted
	// connection. Certificate loading is an external concern (see
	// internal/config); the acceptor only consumes the finished config.
	TLSConfig *tls.Config
	// MOTD is the free-form text reported in every PingStatus reply.
	MOTD string
	// SeedRooms are the game rooms the server starts with.
	SeedRooms []SeedRoom
}

// SeedRoom describes a room to create at startup.
type SeedRoom struct {
	ID   uint64
	Name string
}

type cmdKind uint8

const (
	cmdStop cmdKind = iota
	cmdGetGames
)

type cmd struct {
	kind   cmdKind
	result chan []protocol.ListGamesEntry
}

// Handle is the capability object used to command an Acceptor.
type Handle struct {
	// Addr is the address the listener actually bound to — useful when
	// Config.ListenAddr used an OS-assigned ephemeral port (":0").
	Addr net.Addr
	cmds chan cmd
	done chan struct{}
}

// Stop requests the acceptor shut down: every live connection is told to
// stop and the call blocks until all of them, and the acceptor itself,
// have fully torn down.
func (h *Handle) Stop() {
	select {
	case h.cmds <- cmd{kind: cmdStop}:
	case <-h.done:
	}
	<-h.done
}

// Done closes once the acceptor has fully shut down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// GetGames returns a snapshot of every currently registered room.
func (h *Handle) GetGames() []protocol.ListGamesEntry {
	result := make(chan []protocol.ListGamesEntry, 1)
	select {
	case h.cmds <- cmd{kind: cmdGetGames, result: result}:
	case <-h.done:
		return nil
	}
	select {
	case games := <-result:
		return games
	case <-h.done:
		return nil
	}
}

// Acceptor listens on a configured address, spawns a connection manager
// per accepted socket, and keeps the live-connection registry consistent
// under concurrent join/leave.
type Acceptor struct {
	cfg     Config
	keypair *netio.Keypair
	log     zerolog.Logger

	connMu      sync.Mutex
	connections map[string]*conn.Handle

	roomsMu sync.RWMutex
	rooms   map[uint64]*room.Handle
}

// New constructs an Acceptor. keypair is the server's long-lived RSA
// keypair for the application-layer encryption handshake, independent of
// the TLS certificate in cfg.TLSConfig.
func New(cfg Config, keypair *netio.Keypair, log zerolog.Logger) *Acceptor {
	a := &Acceptor{
		cfg:         cfg,
		keypair:     keypair,
		log:         log,
		connections: make(map[string]*conn.Handle),
		rooms:       make(map[uint64]*room.Handle),
	}
	for _, seed := range cfg.SeedRooms {
		a.rooms[seed.ID] = room.New(seed.ID, seed.Name).Spawn()
	}
	return a
}

// PingSnapshot implements netio.ServerView.
func (a *Acceptor) PingSnapshot() protocol.PingStatusPacket {
	a.connMu.Lock()
	players := uint32(len(a.connections))
	a.connMu.Unlock()

	a.roomsMu.RLock()
	games := uint32(len(a.rooms))
	a.roomsMu.RUnlock()

	status, err := json.Marshal(statusText{Text: a.cfg.MOTD})
	if err != nil {
		status = []byte(`{"text":""}`)
	}
	return protocol.PingStatusPacket{Players: players, Games: games, Status: string(status)}
}

// GameSnapshot implements netio.ServerView.
func (a *Acceptor) GameSnapshot() []protocol.ListGamesEntry {
	a.roomsMu.RLock()
	handles := make([]*room.Handle, 0, len(a.rooms))
	for _, h := range a.rooms {
		handles = append(handles, h)
	}
	a.roomsMu.RUnlock()

	entries := make([]protocol.ListGamesEntry, 0, len(handles))
	for _, h := range handles {
		entries = append(entries, protocol.ListGamesEntry{
			ID:      h.Info.ID,
			Tag:     protocol.GameEntryAdd,
			Name:    h.Info.Name,
			Players: uint32(h.PlayerCount()),
		})
	}
	return entries
}

// Spawn binds the listener and starts the acceptor's goroutine. It
// returns the error from the initial bind synchronously so startup
// failures (spec: fatal, non-zero exit) surface immediately.
func Spawn(cfg Config, keypair *netio.Keypair, log zerolog.Logger) (*Handle, error) {
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: failed to bind %s: %w", cfg.ListenAddr, err)
	}
	a := New(cfg, keypair, log)

	cmds := make(chan cmd, commandQueueSize)
	done := make(chan struct{})
	handle := &Handle{Addr: listener.Addr(), cmds: cmds, done: done}

	log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
	go a.run(listener, cmds, done)
	return handle, nil
}

const commandQueueSize = 1024

func (a *Acceptor) run(listener net.Listener, cmds <-chan cmd, done chan<- struct{}) {
	defer close(done)

	accepted := make(chan net.Conn)
	stopAccept := make(chan struct{})
	go a.acceptLoop(listener, accepted, stopAccept)

	for {
		select {
		case c, ok := <-cmds:
			if !ok || c.kind == cmdStop {
				close(stopAccept)
				listener.Close()
				a.shutdownConnections()
				return
			}
			if c.kind == cmdGetGames {
				c.result <- a.GameSnapshot()
			}

		case rawConn, ok := <-accepted:
			if !ok {
				continue
			}
			a.acceptNet(rawConn)
		}
	}
}

// acceptLoop runs the blocking Accept() call on its own goroutine so the
// main loop can race it against control messages, the same shape the
// receiver uses to race reads against stop commands.
func (a *Acceptor) acceptLoop(listener net.Listener, accepted chan<- net.Conn, stopAccept <-chan struct{}) {
	for {
		rawConn, err := listener.Accept()
		if err != nil {
			select {
			case <-stopAccept:
			default:
				a.log.Debug().Err(err).Msg("failed to accept connection")
			}
			return
		}
		select {
		case accepted <- rawConn:
		case <-stopAccept:
			rawConn.Close()
			return
		}
	}
}

// acceptNet spawns a connection manager for rawConn and arranges for the
// registry to track it for exactly the window between its insertion and
// the manager joining.
func (a *Acceptor) acceptNet(rawConn net.Conn) {
	peer := rawConn.RemoteAddr()
	a.log.Info().Stringer("peer", peer).Msg("connection accepted")

	manager := conn.New(rawConn, a.cfg.TLSConfig, a.keypair, a, a.log)
	handle := manager.Spawn()

	key := peer.String()
	a.connMu.Lock()
	a.connections[key] = handle
	a.connMu.Unlock()

	go func() {
		<-handle.Done()
		a.connMu.Lock()
		delete(a.connections, key)
		a.connMu.Unlock()
	}()
}

// shutdownConnections atomically takes ownership of the registry so no
// new entries can be added to the shutting-down set, then stops every
// pre-existing connection concurrently and waits for all of them.
func (a *Acceptor) shutdownConnections() {
	a.connMu.Lock()
	cons := a.connections
	a.connections = make(map[string]*conn.Handle)
	a.connMu.Unlock()

	var g errgroup.Group
	for _, handle := range cons {
		handle := handle
		g.Go(func() error {
			handle.Stop()
			return nil
		})
	}
	_ = g.Wait()

	a.roomsMu.Lock()
	rooms := a.rooms
	a.rooms = make(map[uint64]*room.Handle)
	a.roomsMu.Unlock()
	for _, h := range rooms {
		h.Stop()
	}
}
