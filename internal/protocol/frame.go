package protocol

import (
	"fmt"
	"math"

	"github.com/wyrmforge/gameserver/internal/codec"
)

// HeaderSize is the fixed length of the frame header: a u16 packet id
// followed by a u32 body length, both little-endian.
const HeaderSize = 6

// Outbound is implemented by every packet type that can be sent.
type Outbound interface {
	Encode(w *codec.Writer)
}

// ParseHeader decodes the 6-byte frame header into a packet id and body
// length. header must be exactly HeaderSize bytes.
func ParseHeader(header [HeaderSize]byte) (id uint16, bodyLen uint32) {
	r := codec.NewReader(header[:])
	id, _ = r.ReadU16()
	bodyLen, _ = r.ReadU32()
	return id, bodyLen
}

// EncodeFrame serializes id and body into a full wire frame: the 2-byte id,
// the 4-byte body length, then the body itself. It fails if
// the body exceeds the protocol's u32 length limit.
func EncodeFrame(id uint16, body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("protocol: packet body of %d bytes exceeds u32 length limit", len(body))
	}
	frame := make([]byte, 0, HeaderSize+len(body))
	w := codec.NewWriter(0)
	w.WriteU16(id)
	w.WriteU32(uint32(len(body)))
	frame = append(frame, w.Bytes()...)
	frame = append(frame, body...)
	return frame, nil
}

// EncodePacket serializes an Outbound packet's body and wraps it in a
// frame with the given id.
func EncodePacket(id uint16, p Outbound) ([]byte, error) {
	w := codec.NewWriter(32)
	p.Encode(w)
	return EncodeFrame(id, w.Bytes())
}
