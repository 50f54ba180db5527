package netio

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wyrmforge/gameserver/internal/auth"
	"github.com/wyrmforge/gameserver/internal/codec"
	"github.com/wyrmforge/gameserver/internal/protocol"
)

// netBufferSize sizes the receiver's buffered reader.
const netBufferSize = 2 * 1024

// verifyNonceSize is the length of the random nonce the receiver proves
// the peer can decrypt before trusting its chosen shared secret.
const verifyNonceSize = 64

var (
	errUnknownPacket  = errors.New("netio: unknown packet for current state")
	errInflatedPacket = errors.New("netio: packet body has leftover bytes")
)

// ServerView is the read-only slice of server state the receiver needs to
// answer Ping and SyncGames without reaching into the acceptor's fields
// directly.
type ServerView interface {
	// PingSnapshot returns the current player/game counts and status text
	// reported in a PingStatus reply.
	PingSnapshot() protocol.PingStatusPacket
	// GameSnapshot returns an Add entry for every currently registered
	// game room.
	GameSnapshot() []protocol.ListGamesEntry
}

type receiverCmdKind uint8

const (
	receiverCmdStop receiverCmdKind = iota
)

type receiverCmd struct {
	kind receiverCmdKind
}

// ReceiverHandle is the capability object used to command a ReceiverActor.
type ReceiverHandle struct {
	cmds chan receiverCmd
	done chan struct{}
}

// Stop requests the receiver actor to exit and blocks until it has. Safe
// to call more than once or after the actor already exited on its own.
func (h *ReceiverHandle) Stop() {
	select {
	case h.cmds <- receiverCmd{kind: receiverCmdStop}:
	case <-h.done:
	}
	<-h.done
}

// Done returns a channel that closes once the actor's goroutine has
// exited, for any reason.
func (h *ReceiverHandle) Done() <-chan struct{} { return h.done }

// ReceiverActor owns the connection's read side exclusively and drives
// the protocol state machine. It is the sole producer of commands to the
// paired SenderActor.
type ReceiverActor struct {
	conn    net.Conn
	buf     *bufio.Reader
	cipher  cipherState
	state   protocol.State
	verify  []byte
	keypair *Keypair
	sender  *SenderHandle
	peer    net.Addr
	view    ServerView
	log     zerolog.Logger
}

// NewReceiverActor constructs a receiver over conn, which must not be used
// by any other goroutine for reading once the actor is spawned. keypair is
// the server's shared-immutable RSA keypair; sender is the paired
// connection's sender handle.
func NewReceiverActor(conn net.Conn, keypair *Keypair, sender *SenderHandle, peer net.Addr, view ServerView, log zerolog.Logger) *ReceiverActor {
	return &ReceiverActor{
		conn:    conn,
		buf:     bufio.NewReaderSize(conn, netBufferSize),
		state:   protocol.StateHandshake,
		keypair: keypair,
		sender:  sender,
		peer:    peer,
		view:    view,
		log:     log,
	}
}

// Spawn starts the actor's goroutine and returns its handle.
func (a *ReceiverActor) Spawn() *ReceiverHandle {
	cmds := make(chan receiverCmd, commandQueueSize)
	done := make(chan struct{})
	go a.run(cmds, done)
	return &ReceiverHandle{cmds: cmds, done: done}
}

type frameResult struct {
	id   uint16
	body []byte
	err  error
}

func (a *ReceiverActor) run(cmds <-chan receiverCmd, done chan<- struct{}) {
	defer close(done)

	frames := make(chan frameResult)
	stopReading := make(chan struct{})
	var stopReadingOnce sync.Once
	// stopReader unblocks the reader goroutine's in-flight read exactly
	// once, regardless of which exit path triggers it.
	stopReader := func() {
		stopReadingOnce.Do(func() {
			close(stopReading)
			a.conn.SetReadDeadline(time.Now())
		})
	}
	defer stopReader()
	go a.readLoop(frames, stopReading)

	for {
		select {
		case cmd, ok := <-cmds:
			if !ok || cmd.kind == receiverCmdStop {
				return
			}
		case res := <-frames:
			if res.err != nil {
				a.log.Debug().Err(res.err).Msg("connection closed")
				return
			}
			a.log.Debug().Uint16("id", res.id).Hex("body", res.body).Msg("packet received")
			terminate, err := a.dispatch(res.id, res.body)
			if err != nil {
				a.log.Debug().Err(err).Msg("connection closed (protocol violation)")
				return
			}
			if terminate {
				return
			}
		}
	}
}

// readLoop reads frames one at a time, handing each to frames and waiting
// for it to be consumed before reading the next. This keeps at most one
// frame in flight, so the main select loop fully serializes dispatch.
func (a *ReceiverActor) readLoop(frames chan<- frameResult, stopReading <-chan struct{}) {
	for {
		id, body, err := a.readFrame()
		select {
		case frames <- frameResult{id: id, body: body, err: err}:
		case <-stopReading:
			return
		}
		if err != nil {
			return
		}
	}
}

// readFrame reads exactly one frame: the 6-byte header, then its body.
// Both are decrypted in place if the channel is keyed. The header is
// decrypted first so the cipher's feedback register advances exactly 6
// bytes before the body starts.
func (a *ReceiverActor) readFrame() (uint16, []byte, error) {
	var header [protocol.HeaderSize]byte
	if _, err := io.ReadFull(a.buf, header[:]); err != nil {
		return 0, nil, err
	}
	if a.cipher.encrypted() {
		a.cipher.transform(header[:])
	}
	id, bodyLen := protocol.ParseHeader(header)

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(a.buf, body); err != nil {
		return 0, nil, err
	}
	if a.cipher.encrypted() {
		a.cipher.transform(body)
	}
	return id, body, nil
}

// dispatch looks up the packet class for (state, id), deserializes it,
// enforces the inflated-packet rule, and runs the matching state-machine
// action. terminate reports whether the connection should now close
// (normal completion, not an error).
func (a *ReceiverActor) dispatch(id uint16, body []byte) (terminate bool, err error) {
	r := codec.NewReader(body)

	switch a.state {
	case protocol.StateHandshake:
		if id != protocol.IDHandshake {
			return false, errUnknownPacket
		}
		pkt, err := protocol.DecodeHandshake(r)
		if err != nil {
			return false, err
		}
		if r.Remaining() != 0 {
			return false, errInflatedPacket
		}
		return a.onHandshake(pkt)

	case protocol.StatePing:
		if id != protocol.IDPingPong {
			return false, errUnknownPacket
		}
		pkt, err := protocol.DecodePingPong(r)
		if err != nil {
			return false, err
		}
		if r.Remaining() != 0 {
			return false, errInflatedPacket
		}
		return a.onPingPong(pkt)

	case protocol.StateEncrypt:
		if id != protocol.IDEncryptionResponse {
			return false, errUnknownPacket
		}
		pkt, err := protocol.DecodeEncryptionResponse(r)
		if err != nil {
			return false, err
		}
		if r.Remaining() != 0 {
			return false, errInflatedPacket
		}
		return a.onEncryptionResponse(pkt)

	case protocol.StateLogin:
		switch id {
		case protocol.IDSyncGames:
			pkt, err := protocol.DecodeSyncGames(r)
			if err != nil {
				return false, err
			}
			if r.Remaining() != 0 {
				return false, errInflatedPacket
			}
			return a.onSyncGames(pkt)
		case protocol.IDLogin:
			pkt, err := protocol.DecodeLogin(r)
			if err != nil {
				return false, err
			}
			if r.Remaining() != 0 {
				return false, errInflatedPacket
			}
			return a.onLogin(pkt)
		default:
			return false, errUnknownPacket
		}

	default:
		return false, errUnknownPacket
	}
}

func (a *ReceiverActor) onHandshake(pkt protocol.HandshakePacket) (bool, error) {
	switch pkt.Action {
	case protocol.HandshakeActionPing:
		a.state = protocol.StatePing
		if err := a.sender.Send(protocol.IDPingStatus, a.view.PingSnapshot()); err != nil {
			return false, err
		}
		return false, nil

	case protocol.HandshakeActionConnect:
		verify := make([]byte, verifyNonceSize)
		if _, err := rand.Read(verify); err != nil {
			return false, fmt.Errorf("netio: generating verify nonce: %w", err)
		}
		a.verify = verify
		a.state = protocol.StateEncrypt
		req := protocol.RequestEncryptionPacket{
			PublicKeyDER: a.keypair.PublicDER,
			Verify:       verify,
		}
		if err := a.sender.Send(protocol.IDRequestEncryption, req); err != nil {
			return false, err
		}
		return false, nil

	default:
		return false, errUnknownPacket
	}
}

func (a *ReceiverActor) onPingPong(pkt protocol.PingPongPacket) (bool, error) {
	if err := a.sender.Send(protocol.IDPingPong, pkt); err != nil {
		return false, err
	}
	// Wait for the sender to acknowledge its stop so the echo is
	// guaranteed to have left the wire before this actor (and in turn
	// the connection) finishes.
	a.sender.Stop()
	return true, nil
}

func (a *ReceiverActor) onEncryptionResponse(pkt protocol.EncryptionResponsePacket) (bool, error) {
	secret, err := a.keypair.VerifyAndDecryptSecret(pkt.VerifyCT, pkt.SecretCT, a.verify)
	if err != nil {
		return false, err
	}
	if err := a.sender.Upgrade(secret); err != nil {
		return false, err
	}
	if err := a.cipher.upgrade(secret, true); err != nil {
		return false, err
	}
	if err := a.sender.Send(protocol.IDEncryptionSuccess, protocol.EncryptionSuccessPacket{}); err != nil {
		return false, err
	}
	a.state = protocol.StateLogin
	return false, nil
}

func (a *ReceiverActor) onSyncGames(_ protocol.SyncGamesPacket) (bool, error) {
	pkt := protocol.ListGamesPacket{Entries: a.view.GameSnapshot()}
	if err := a.sender.Send(protocol.IDListGames, pkt); err != nil {
		return false, err
	}
	return false, nil
}

func (a *ReceiverActor) onLogin(pkt protocol.LoginPacket) (bool, error) {
	permission, err := auth.Authenticate(pkt.Username, pkt.Password)
	if err != nil {
		return false, err
	}
	resp := protocol.LoginResponsePacket{Permission: permission}
	if err := a.sender.Send(protocol.IDLoginResponse, resp); err != nil {
		return false, err
	}
	return false, nil
}
