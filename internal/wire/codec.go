package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/CaptainCow95/DatabaseV2/internal/document"
)

// Frame is the wire-level view of a Message before the caller attaches the
// connection-derived Address/Direction that never travel on the wire
// (spec §4.A): every transported message is
//
//	len(4) | id(4) | inResponseTo(4) | waitingForResponse(1) |
//	kindLen(4) | kindUtf8 | payloadLen(4) | payloadJsonUtf8
//
// all integers little-endian, length-prefixed strings are int32-length
// followed by bytes, and len counts every byte after itself.
type Frame struct {
	ID                 uint32
	InResponseTo       uint32
	WaitingForResponse bool
	Kind               string
	Payload            *document.Document
}

// Encode serializes a frame to its wire representation, length-prefixed.
func Encode(f *Frame) ([]byte, error) {
	kindBytes := []byte(f.Kind)

	payload := f.Payload
	if payload == nil {
		payload = document.New()
	}
	payloadBytes, err := payload.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}

	body := new(bytes.Buffer)
	_ = binary.Write(body, binary.LittleEndian, f.ID)
	_ = binary.Write(body, binary.LittleEndian, f.InResponseTo)
	var wfr uint8
	if f.WaitingForResponse {
		wfr = 1
	}
	body.WriteByte(wfr)
	_ = binary.Write(body, binary.LittleEndian, int32(len(kindBytes)))
	body.Write(kindBytes)
	_ = binary.Write(body, binary.LittleEndian, int32(len(payloadBytes)))
	body.Write(payloadBytes)

	out := new(bytes.Buffer)
	_ = binary.Write(out, binary.LittleEndian, int32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// TryDecodeFrame attempts to parse exactly one frame from the front of buf.
// It reports how many bytes were consumed and whether a complete frame was
// available. Per spec §4.A, a reader must buffer bytes per peer until at
// least 4 bytes are present, then until the body length is fully available,
// and only then parse; any remaining bytes (including a partial next frame)
// must stay buffered — callers keep buf[consumed:] for the next attempt.
//
// A framing/JSON parse error is reported per spec §7 MalformedInput: the
// caller should drop the frame (it has already been fully consumed from the
// buffer since its length prefix was known) without tearing down the
// connection.
func TryDecodeFrame(buf []byte) (frame *Frame, consumed int, complete bool, err error) {
	const lenPrefix = 4
	if len(buf) < lenPrefix {
		return nil, 0, false, nil
	}
	bodyLen := int(int32(binary.LittleEndian.Uint32(buf[:lenPrefix])))
	if bodyLen < 0 {
		return nil, 0, false, fmt.Errorf("wire: negative frame length %d", bodyLen)
	}
	total := lenPrefix + bodyLen
	if len(buf) < total {
		return nil, 0, false, nil
	}
	body := buf[lenPrefix:total]
	consumed = total

	r := bytes.NewReader(body)
	f := &Frame{}

	if err = binary.Read(r, binary.LittleEndian, &f.ID); err != nil {
		return nil, consumed, true, fmt.Errorf("wire: decode id: %w", err)
	}
	if err = binary.Read(r, binary.LittleEndian, &f.InResponseTo); err != nil {
		return nil, consumed, true, fmt.Errorf("wire: decode inResponseTo: %w", err)
	}
	var wfr uint8
	if wfr, err = r.ReadByte(); err != nil {
		return nil, consumed, true, fmt.Errorf("wire: decode waitingForResponse: %w", err)
	}
	f.WaitingForResponse = wfr != 0

	kind, err := readLenPrefixed(r)
	if err != nil {
		return nil, consumed, true, fmt.Errorf("wire: decode kind: %w", err)
	}
	f.Kind = string(kind)

	payloadBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, consumed, true, fmt.Errorf("wire: decode payload: %w", err)
	}
	doc := document.New()
	if len(payloadBytes) > 0 {
		if err = doc.UnmarshalJSON(payloadBytes); err != nil {
			return nil, consumed, true, fmt.Errorf("wire: decode payload json: %w", err)
		}
	}
	f.Payload = doc

	return f, consumed, true, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative length prefix %d", n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ToFrame projects the wire-relevant fields of a Message into a Frame.
func ToFrame(m *Message) *Frame {
	return &Frame{
		ID:                 m.ID,
		InResponseTo:       m.InResponseTo,
		WaitingForResponse: m.WaitingForResponse,
		Kind:               m.Kind,
		Payload:            m.Payload,
	}
}

// FromFrame builds a Message from a decoded Frame plus the connection
// context (address/direction) that never travels on the wire.
func FromFrame(f *Frame, from NodeID, dir Direction) *Message {
	return &Message{
		ID:                 f.ID,
		InResponseTo:       f.InResponseTo,
		WaitingForResponse: f.WaitingForResponse,
		Kind:               f.Kind,
		Payload:            f.Payload,
		Address:            from,
		Direction:          dir,
		Status:             Created,
	}
}
