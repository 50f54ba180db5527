// Package room implements the game room placeholder: an actor carrying
// only an identity and a player set. Match/gameplay logic is an external
// collaborator; this package exists so the Login state's ListGames and
// SyncGames operations have something real to report on.
package room

import (
	"github.com/wyrmforge/gameserver/internal/netio"
)

// Info is a room's immutable identity.
type Info struct {
	ID   uint64
	Name string
}

type cmdKind uint8

const (
	cmdStop cmdKind = iota
	cmdPlayerCount
	cmdJoin
	cmdLeave
)

type cmd struct {
	kind   cmdKind
	player *netio.SenderHandle
	result chan int
}

// Handle is the capability object used to command a Room actor.
type Handle struct {
	Info Info
	cmds chan cmd
	done chan struct{}
}

// PlayerCount returns the number of players currently in the room.
func (h *Handle) PlayerCount() int {
	result := make(chan int, 1)
	select {
	case h.cmds <- cmd{kind: cmdPlayerCount, result: result}:
	case <-h.done:
		return 0
	}
	select {
	case n := <-result:
		return n
	case <-h.done:
		return 0
	}
}

// Join adds player to the room's player set. Joining twice is a no-op.
func (h *Handle) Join(player *netio.SenderHandle) {
	select {
	case h.cmds <- cmd{kind: cmdJoin, player: player}:
	case <-h.done:
	}
}

// Leave removes player from the room's player set, if present.
func (h *Handle) Leave(player *netio.SenderHandle) {
	select {
	case h.cmds <- cmd{kind: cmdLeave, player: player}:
	case <-h.done:
	}
}

// Stop requests the room actor to exit and blocks until it has.
func (h *Handle) Stop() {
	select {
	case h.cmds <- cmd{kind: cmdStop}:
	case <-h.done:
	}
	<-h.done
}

// Actor is a single game room: an id, a name, and a player set. Lifecycle
// (creation, destruction, match state) is out of scope; only this shape
// is exposed to the protocol layer.
type Actor struct {
	info    Info
	players map[*netio.SenderHandle]struct{}
}

// New constructs a room actor with the given identity and no players.
func New(id uint64, name string) *Actor {
	return &Actor{
		info:    Info{ID: id, Name: name},
		players: make(map[*netio.SenderHandle]struct{}),
	}
}

// Spawn starts the actor's goroutine and returns its handle.
func (a *Actor) Spawn() *Handle {
	cmds := make(chan cmd, 1024)
	done := make(chan struct{})
	handle := &Handle{Info: a.info, cmds: cmds, done: done}
	go a.run(cmds, done)
	return handle
}

func (a *Actor) run(cmds <-chan cmd, done chan<- struct{}) {
	defer close(done)
	for c := range cmds {
		switch c.kind {
		case cmdStop:
			return
		case cmdPlayerCount:
			c.result <- len(a.players)
		case cmdJoin:
			a.players[c.player] = struct{}{}
		case cmdLeave:
			delete(a.players, c.player)
		}
	}
}
