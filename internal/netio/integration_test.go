package netio

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wyrmforge/gameserver/internal/codec"
	"github.com/wyrmforge/gameserver/internal/protocol"
)

// stubView is a fixed ServerView used by tests that don't care about its
// contents.
type stubView struct{}

func (stubView) PingSnapshot() protocol.PingStatusPacket {
	return protocol.PingStatusPacket{Players: 1, Games: 2, Status: `{"text":"test"}`}
}

func (stubView) GameSnapshot() []protocol.ListGamesEntry {
	return []protocol.ListGamesEntry{{ID: 1, Tag: protocol.GameEntryAdd, Name: "lobby", Players: 0}}
}

// harness wires a SenderActor and a ReceiverActor onto one end of a
// net.Pipe, leaving the other end (client) for the test to drive directly.
type harness struct {
	client net.Conn
	sender *SenderHandle
	recv   *ReceiverHandle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	kp, err := NewKeypair()
	require.NoError(t, err)

	log := zerolog.Nop()
	sender := NewSenderActor(serverConn, log).Spawn()
	recv := NewReceiverActor(serverConn, kp, sender, serverConn.RemoteAddr(), stubView{}, log).Spawn()

	return &harness{client: clientConn, sender: sender, recv: recv}
}

func (h *harness) close() {
	h.recv.Stop()
	h.sender.Stop()
	h.client.Close()
}

// readFrameRaw reads exactly one length-framed packet off conn and returns
// its id and undecoded body.
func readFrameRaw(t *testing.T, conn net.Conn) (uint16, []byte) {
	t.Helper()
	var header [protocol.HeaderSize]byte
	_, err := io.ReadFull(conn, header[:])
	require.NoError(t, err)
	id, bodyLen := protocol.ParseHeader(header)
	body := make([]byte, bodyLen)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return id, body
}

// readEncryptedFrame reads one frame and decrypts it with a fresh CFB8
// stream keyed by secret, mirroring the client side of the cipher upgrade.
func readEncryptedFrame(t *testing.T, conn net.Conn, secret []byte) (uint16, []byte) {
	t.Helper()
	block, err := aes.NewCipher(secret)
	require.NoError(t, err)
	stream := newCFB8(block, secret, true)

	var header [protocol.HeaderSize]byte
	_, err = io.ReadFull(conn, header[:])
	require.NoError(t, err)
	stream.XORKeyStream(header[:], header[:])
	id, bodyLen := protocol.ParseHeader(header)

	body := make([]byte, bodyLen)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	stream.XORKeyStream(body, body)
	return id, body
}

func sendFrame(t *testing.T, conn net.Conn, id uint16, p protocol.Outbound) {
	t.Helper()
	frame, err := protocol.EncodePacket(id, p)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func codecReader(body []byte) *codec.Reader {
	return codec.NewReader(body)
}

func parsePublicKey(t *testing.T, der []byte) *rsa.PublicKey {
	t.Helper()
	pub, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
	return rsaPub
}

func TestPingRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	h.client.SetDeadline(time.Now().Add(5 * time.Second))

	sendFrame(t, h.client, protocol.IDHandshake, protocol.HandshakePacket{Action: protocol.HandshakeActionPing})

	id, body := readFrameRaw(t, h.client)
	require.Equal(t, uint16(protocol.IDPingStatus), id)
	status, err := protocol.DecodePingStatus(codecReader(body))
	require.NoError(t, err)
	require.Equal(t, uint32(1), status.Players)
	require.Equal(t, uint32(2), status.Games)

	sendFrame(t, h.client, protocol.IDPingPong, protocol.PingPongPacket{Random: 0xC0FFEE})
	id, body = readFrameRaw(t, h.client)
	require.Equal(t, uint16(protocol.IDPingPong), id)
	pong, err := protocol.DecodePingPong(codecReader(body))
	require.NoError(t, err)
	require.Equal(t, uint64(0xC0FFEE), pong.Random)

	select {
	case <-h.recv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not terminate after PingPong")
	}
}

func TestEncryptionUpgradeRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	h.client.SetDeadline(time.Now().Add(5 * time.Second))

	sendFrame(t, h.client, protocol.IDHandshake, protocol.HandshakePacket{Action: protocol.HandshakeActionConnect})

	id, body := readFrameRaw(t, h.client)
	require.Equal(t, uint16(protocol.IDRequestEncryption), id)
	req, err := protocol.DecodeRequestEncryption(codecReader(body))
	require.NoError(t, err)
	require.Len(t, req.Verify, 64)

	pub := parsePublicKey(t, req.PublicKeyDER)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	verifyCT, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, req.Verify, nil)
	require.NoError(t, err)
	secretCT, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	require.NoError(t, err)

	sendFrame(t, h.client, protocol.IDEncryptionResponse, protocol.EncryptionResponsePacket{VerifyCT: verifyCT, SecretCT: secretCT})

	id, body = readEncryptedFrame(t, h.client, secret)
	require.Equal(t, uint16(protocol.IDEncryptionSuccess), id)
	success, err := protocol.DecodeEncryptionSuccess(codecReader(body))
	require.NoError(t, err)
	require.Equal(t, protocol.EncryptionSuccessPacket{}, success)
}

func TestEncryptionUpgradeTamperedVerifyClosesSilently(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	h.client.SetDeadline(time.Now().Add(5 * time.Second))

	sendFrame(t, h.client, protocol.IDHandshake, protocol.HandshakePacket{Action: protocol.HandshakeActionConnect})
	id, body := readFrameRaw(t, h.client)
	require.Equal(t, uint16(protocol.IDRequestEncryption), id)
	req, err := protocol.DecodeRequestEncryption(codecReader(body))
	require.NoError(t, err)

	pub := parsePublicKey(t, req.PublicKeyDER)

	wrongVerify := make([]byte, 64)
	_, err = rand.Read(wrongVerify)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	verifyCT, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, wrongVerify, nil)
	require.NoError(t, err)
	secretCT, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	require.NoError(t, err)

	sendFrame(t, h.client, protocol.IDEncryptionResponse, protocol.EncryptionResponsePacket{VerifyCT: verifyCT, SecretCT: secretCT})

	select {
	case <-h.recv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not terminate after tampered verify")
	}

	h.client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = h.client.Read(buf)
	require.Error(t, err, "no EncryptionSuccess (or anything else) should ever arrive")
}
