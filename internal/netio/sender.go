// Package netio implements the receiver and sender actors that own a
// connection's read and write sides respectively, and the AES-128-CFB8
// cipher upgrade that runs between them.
package netio

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/wyrmforge/gameserver/internal/protocol"
)

// ErrActorStopped is returned by a handle method when the underlying actor
// has already exited — an internal invariant violation, since a live
// manager should never address a handle after joining it.
var ErrActorStopped = errors.New("netio: actor already stopped")

// commandQueueSize is the bounded FIFO capacity of the sender's and the
// receiver's mailboxes. A slow consumer naturally back-pressures its
// producer once the queue fills.
const commandQueueSize = 1024

type senderCmdKind uint8

const (
	senderCmdStop senderCmdKind = iota
	senderCmdSend
	senderCmdUpgrade
)

type senderCmd struct {
	kind   senderCmdKind
	frame  []byte
	secret []byte
}

// SenderHandle is the capability object used to command a SenderActor.
// It is safe for concurrent use.
type SenderHandle struct {
	cmds chan senderCmd
	done chan struct{}
}

// Send encodes and queues an outbound packet. It returns ErrActorStopped
// if the sender has already exited.
func (h *SenderHandle) Send(id uint16, p protocol.Outbound) error {
	frame, err := protocol.EncodePacket(id, p)
	if err != nil {
		return err
	}
	select {
	case h.cmds <- senderCmd{kind: senderCmdSend, frame: frame}:
		return nil
	case <-h.done:
		return ErrActorStopped
	}
}

// Upgrade queues a cipher upgrade to AES-128-CFB8 keyed by secret. Because
// the sender drains its mailbox in FIFO order, every send queued after
// Upgrade is guaranteed to be encrypted under the new key, and everything
// queued before it is guaranteed not to be.
func (h *SenderHandle) Upgrade(secret []byte) error {
	select {
	case h.cmds <- senderCmd{kind: senderCmdUpgrade, secret: secret}:
		return nil
	case <-h.done:
		return ErrActorStopped
	}
}

// Stop requests the sender actor to exit and blocks until it has. It is
// safe to call more than once, or after the actor already exited on its
// own (e.g. from a write error).
func (h *SenderHandle) Stop() {
	select {
	case h.cmds <- senderCmd{kind: senderCmdStop}:
	case <-h.done:
	}
	<-h.done
}

// Done returns a channel that closes once the actor's goroutine has
// exited, for any reason.
func (h *SenderHandle) Done() <-chan struct{} { return h.done }

// SenderActor owns the connection's write side exclusively. Nothing else
// ever calls Write on the underlying connection.
type SenderActor struct {
	write  io.Writer
	cipher cipherState
	log    zerolog.Logger
}

// NewSenderActor constructs a sender over write, which must not be used
// by any other goroutine for writing once the actor is spawned.
func NewSenderActor(write io.Writer, log zerolog.Logger) *SenderActor {
	return &SenderActor{write: write, log: log}
}

// Spawn starts the actor's goroutine and returns its handle.
func (a *SenderActor) Spawn() *SenderHandle {
	cmds := make(chan senderCmd, commandQueueSize)
	done := make(chan struct{})
	go a.run(cmds, done)
	return &SenderHandle{cmds: cmds, done: done}
}

func (a *SenderActor) run(cmds <-chan senderCmd, done chan<- struct{}) {
	defer close(done)
	for cmd := range cmds {
		switch cmd.kind {
		case senderCmdStop:
			return
		case senderCmdUpgrade:
			if err := a.cipher.upgrade(cmd.secret, false); err != nil {
				a.log.Error().Err(err).Msg("sender cipher upgrade failed")
				return
			}
		case senderCmdSend:
			a.cipher.transform(cmd.frame)
			if _, err := a.write.Write(cmd.frame); err != nil {
				a.log.Debug().Err(err).Msg("connection closed (write error)")
				return
			}
			a.log.Debug().Hex("frame", cmd.frame).Msg("packet sent")
		}
	}
}
