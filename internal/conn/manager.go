// Package conn implements the connection manager: one actor per accepted
// TCP connection that performs the TLS handshake, supervises the paired
// receiver and sender actors, and guarantees clean teardown.
package conn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/wyrmforge/gameserver/internal/netio"
)

type managerCmdKind uint8

const (
	managerCmdStop managerCmdKind = iota
)

type managerCmd struct {
	kind managerCmdKind
}

// Handle is the capability object used to command a Manager.
type Handle struct {
	Peer net.Addr
	cmds chan managerCmd
	done chan struct{}
}

// Stop requests the connection be torn down and blocks until it has been.
// Safe to call more than once.
func (h *Handle) Stop() {
	select {
	case h.cmds <- managerCmd{kind: managerCmdStop}:
	case <-h.done:
	}
	<-h.done
}

// Done returns a channel that closes once the manager (and therefore both
// of its children) has fully torn down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// tlsHandshakeTimeout bounds how long the manager waits for the TLS
// handshake before giving up on a connection.
const tlsHandshakeTimeout = 10 * time.Second

// Manager owns one accepted TCP connection end to end: TLS handshake,
// the receiver/sender actor pair, and teardown.
type Manager struct {
	rawConn   net.Conn
	tlsConfig *tls.Config
	keypair   *netio.Keypair
	view      netio.ServerView
	peer      net.Addr
	log       zerolog.Logger
}

// New constructs a Manager for a freshly accepted raw TCP connection.
func New(rawConn net.Conn, tlsConfig *tls.Config, keypair *netio.Keypair, view netio.ServerView, log zerolog.Logger) *Manager {
	peer := rawConn.RemoteAddr()
	return &Manager{
		rawConn:   rawConn,
		tlsConfig: tlsConfig,
		keypair:   keypair,
		view:      view,
		peer:      peer,
		log:       log.With().Stringer("peer", peer).Logger(),
	}
}

// Spawn starts the manager's goroutine and returns its handle immediately.
// The handle is valid even if the TLS handshake later fails: Done() still
// closes, just without ever having spawned children.
func (m *Manager) Spawn() *Handle {
	cmds := make(chan managerCmd, 1)
	done := make(chan struct{})
	handle := &Handle{Peer: m.peer, cmds: cmds, done: done}
	go m.run(cmds, done)
	return handle
}

func (m *Manager) run(cmds <-chan managerCmd, done chan<- struct{}) {
	defer close(done)

	tlsConn := tls.Server(m.rawConn, m.tlsConfig)
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	err := tlsConn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		m.log.Warn().Err(err).Msg("TLS handshake failed")
		m.rawConn.Close()
		return
	}

	// Always attempt a clean shutdown on the way out, regardless of which
	// branch below triggers it; its error is ignored.
	defer func() {
		if err := tlsConn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("error closing connection")
		}
	}()

	senderActor := netio.NewSenderActor(tlsConn, m.log)
	senderHandle := senderActor.Spawn()

	receiverActor := netio.NewReceiverActor(tlsConn, m.keypair, senderHandle, m.peer, m.view, m.log)
	receiverHandle := receiverActor.Spawn()

	for {
		select {
		case cmd, ok := <-cmds:
			if !ok || cmd.kind == managerCmdStop {
				receiverHandle.Stop()
				senderHandle.Stop()
				m.log.Info().Msg("connection closed")
				return
			}
		case <-receiverHandle.Done():
			senderHandle.Stop()
			m.log.Info().Msg("connection closed")
			return
		case <-senderHandle.Done():
			receiverHandle.Stop()
			m.log.Info().Msg("connection closed")
			return
		}
	}
}
