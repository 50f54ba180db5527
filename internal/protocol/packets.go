package protocol

import (
	"fmt"

	"github.com/wyrmforge/gameserver/internal/auth"
	"github.com/wyrmforge/gameserver/internal/codec"
)

// Packet ids. IDs are scoped to a state and may collide across states;
// the (State, ID) pair is what uniquely identifies a packet.
const (
	IDHandshake = 0 // Handshake state, inbound

	IDPingStatus = 0 // Ping state, outbound
	IDPingPong   = 1 // Ping state, inbound and outbound

	IDRequestEncryption  = 0 // Encrypt state, outbound
	IDEncryptionResponse = 0 // Encrypt state, inbound
	IDEncryptionSuccess  = 1 // Encrypt state, outbound

	IDListGames     = 0 // Login state, outbound
	IDSyncGames     = 0 // Login state, inbound
	IDLogin         = 1 // Login state, inbound
	IDLoginResponse = 1 // Login state, outbound
)

// EncryptionSuccessSentinel is the fixed body of an EncryptionSuccess
// packet: a single u32 with this value.
const EncryptionSuccessSentinel uint32 = 0xDEADBEEF

// HandshakeAction selects what a Handshake packet is requesting.
type HandshakeAction uint8

const (
	HandshakeActionPing    HandshakeAction = 1
	HandshakeActionConnect HandshakeAction = 2
)

// HandshakePacket is the single inbound packet of the Handshake state.
type HandshakePacket struct {
	Action HandshakeAction
}

// DecodeHandshake reads a HandshakePacket body.
func DecodeHandshake(r *codec.Reader) (HandshakePacket, error) {
	v, err := r.ReadU8()
	if err != nil {
		return HandshakePacket{}, err
	}
	switch HandshakeAction(v) {
	case HandshakeActionPing, HandshakeActionConnect:
		return HandshakePacket{Action: HandshakeAction(v)}, nil
	default:
		return HandshakePacket{}, fmt.Errorf("protocol: unknown handshake action %d", v)
	}
}

// PingStatusPacket is the server's reply to a Handshake{Ping}, carrying a
// snapshot of server load and a free-form status string (typically JSON).
type PingStatusPacket struct {
	Players uint32
	Games   uint32
	Status  string
}

func (p PingStatusPacket) Encode(w *codec.Writer) {
	w.WriteU32(p.Players)
	w.WriteU32(p.Games)
	w.WritePacketString(p.Status)
}

// DecodePingStatus reads a PingStatusPacket body. Only used by tests and by
// clients; the server never decodes its own outbound packet.
func DecodePingStatus(r *codec.Reader) (PingStatusPacket, error) {
	players, err := r.ReadU32()
	if err != nil {
		return PingStatusPacket{}, err
	}
	games, err := r.ReadU32()
	if err != nil {
		return PingStatusPacket{}, err
	}
	status, err := r.ReadPacketString()
	if err != nil {
		return PingStatusPacket{}, err
	}
	return PingStatusPacket{Players: players, Games: games, Status: status}, nil
}

// PingPongPacket is echoed back verbatim by the server and ends the Ping
// session.
type PingPongPacket struct {
	Random uint64
}

func (p PingPongPacket) Encode(w *codec.Writer) {
	w.WriteU64(p.Random)
}

func DecodePingPong(r *codec.Reader) (PingPongPacket, error) {
	v, err := r.ReadU64()
	if err != nil {
		return PingPongPacket{}, err
	}
	return PingPongPacket{Random: v}, nil
}

// RequestEncryptionPacket offers the server's long-lived RSA public key
// (DER-encoded) and a freshly generated verify nonce.
type RequestEncryptionPacket struct {
	PublicKeyDER []byte
	Verify       []byte
}

func (p RequestEncryptionPacket) Encode(w *codec.Writer) {
	w.WriteU32(uint32(len(p.PublicKeyDER)))
	w.WriteBytes(p.PublicKeyDER)
	w.WriteU32(uint32(len(p.Verify)))
	w.WriteBytes(p.Verify)
}

func DecodeRequestEncryption(r *codec.Reader) (RequestEncryptionPacket, error) {
	keyLen, err := r.ReadU32()
	if err != nil {
		return RequestEncryptionPacket{}, err
	}
	key, err := r.ReadBytes(int(keyLen))
	if err != nil {
		return RequestEncryptionPacket{}, err
	}
	verifyLen, err := r.ReadU32()
	if err != nil {
		return RequestEncryptionPacket{}, err
	}
	verify, err := r.ReadBytes(int(verifyLen))
	if err != nil {
		return RequestEncryptionPacket{}, err
	}
	return RequestEncryptionPacket{PublicKeyDER: key, Verify: verify}, nil
}

// EncryptionResponsePacket carries the RSA-OAEP ciphertexts of the verify
// nonce and the client-chosen shared secret.
type EncryptionResponsePacket struct {
	VerifyCT []byte
	SecretCT []byte
}

func (p EncryptionResponsePacket) Encode(w *codec.Writer) {
	w.WriteU32(uint32(len(p.VerifyCT)))
	w.WriteBytes(p.VerifyCT)
	w.WriteU32(uint32(len(p.SecretCT)))
	w.WriteBytes(p.SecretCT)
}

func DecodeEncryptionResponse(r *codec.Reader) (EncryptionResponsePacket, error) {
	verifyLen, err := r.ReadU32()
	if err != nil {
		return EncryptionResponsePacket{}, err
	}
	verify, err := r.ReadBytes(int(verifyLen))
	if err != nil {
		return EncryptionResponsePacket{}, err
	}
	secretLen, err := r.ReadU32()
	if err != nil {
		return EncryptionResponsePacket{}, err
	}
	secret, err := r.ReadBytes(int(secretLen))
	if err != nil {
		return EncryptionResponsePacket{}, err
	}
	return EncryptionResponsePacket{VerifyCT: verify, SecretCT: secret}, nil
}

// EncryptionSuccessPacket is a sentinel-only packet confirming the cipher
// upgrade succeeded. It is the first packet encrypted under the new key.
type EncryptionSuccessPacket struct{}

func (EncryptionSuccessPacket) Encode(w *codec.Writer) {
	w.WriteU32(EncryptionSuccessSentinel)
}

func DecodeEncryptionSuccess(r *codec.Reader) (EncryptionSuccessPacket, error) {
	v, err := r.ReadU32()
	if err != nil {
		return EncryptionSuccessPacket{}, err
	}
	if v != EncryptionSuccessSentinel {
		return EncryptionSuccessPacket{}, fmt.Errorf("protocol: bad encryption success sentinel %#x", v)
	}
	return EncryptionSuccessPacket{}, nil
}

// GameEntryTag distinguishes an added room from a removed one in a
// ListGamesPacket.
type GameEntryTag uint8

const (
	GameEntryAdd    GameEntryTag = 0
	GameEntryRemove GameEntryTag = 1
)

// ListGamesEntry is one row of a ListGamesPacket. Name and Players are only
// meaningful (and only encoded) when Tag is GameEntryAdd.
type ListGamesEntry struct {
	ID      uint64
	Tag     GameEntryTag
	Name    string
	Players uint32
}

func (e ListGamesEntry) Encode(w *codec.Writer) {
	w.WriteU64(e.ID)
	w.WriteU8(uint8(e.Tag))
	if e.Tag == GameEntryAdd {
		w.WriteNameString(e.Name)
		w.WriteU32(e.Players)
	}
}

func DecodeListGamesEntry(r *codec.Reader) (ListGamesEntry, error) {
	id, err := r.ReadU64()
	if err != nil {
		return ListGamesEntry{}, err
	}
	tagByte, err := r.ReadU8()
	if err != nil {
		return ListGamesEntry{}, err
	}
	entry := ListGamesEntry{ID: id, Tag: GameEntryTag(tagByte)}
	switch entry.Tag {
	case GameEntryAdd:
		name, err := r.ReadNameString()
		if err != nil {
			return ListGamesEntry{}, err
		}
		players, err := r.ReadU32()
		if err != nil {
			return ListGamesEntry{}, err
		}
		entry.Name = name
		entry.Players = players
	case GameEntryRemove:
		// no further fields
	default:
		return ListGamesEntry{}, fmt.Errorf("protocol: unknown game list entry tag %d", tagByte)
	}
	return entry, nil
}

// ListGamesPacket is a full or incremental snapshot of the room registry.
type ListGamesPacket struct {
	Entries []ListGamesEntry
}

func (p ListGamesPacket) Encode(w *codec.Writer) {
	codec.WriteList(w, p.Entries, func(w *codec.Writer, e ListGamesEntry) {
		e.Encode(w)
	})
}

func DecodeListGames(r *codec.Reader) (ListGamesPacket, error) {
	entries, err := codec.ReadList(r, DecodeListGamesEntry)
	if err != nil {
		return ListGamesPacket{}, err
	}
	return ListGamesPacket{Entries: entries}, nil
}

// SyncGamesPacket requests a fresh ListGamesPacket snapshot. It carries no
// fields.
type SyncGamesPacket struct{}

func DecodeSyncGames(r *codec.Reader) (SyncGamesPacket, error) {
	return SyncGamesPacket{}, nil
}

// LoginPacket carries placeholder credentials; see internal/auth.
type LoginPacket struct {
	Username string
	Password string
}

func (p LoginPacket) Encode(w *codec.Writer) {
	w.WriteNameString(p.Username)
	w.WriteNameString(p.Password)
}

func DecodeLogin(r *codec.Reader) (LoginPacket, error) {
	username, err := r.ReadNameString()
	if err != nil {
		return LoginPacket{}, err
	}
	password, err := r.ReadNameString()
	if err != nil {
		return LoginPacket{}, err
	}
	return LoginPacket{Username: username, Password: password}, nil
}

// LoginResponsePacket grants a permission level to a freshly logged-in
// connection.
type LoginResponsePacket struct {
	Permission auth.PermissionLevel
}

func (p LoginResponsePacket) Encode(w *codec.Writer) {
	w.WriteU8(uint8(p.Permission))
}

func DecodeLoginResponse(r *codec.Reader) (LoginResponsePacket, error) {
	v, err := r.ReadU8()
	if err != nil {
		return LoginResponsePacket{}, err
	}
	return LoginResponsePacket{Permission: auth.PermissionLevel(v)}, nil
}
