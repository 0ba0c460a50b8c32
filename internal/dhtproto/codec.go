package dhtproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// Magic is the fixed prefix every datagram must begin with — the
// "checkable archive prefix" spec.md §4.6 calls for, letting a
// receiver fail closed on garbage before it ever reaches a type
// switch.
const Magic uint32 = 0x4b434e31 // "KCN1"

// HeaderSize is the fixed on-wire header length: magic(4) +
// message_type(4) + transaction_id(16) + body_len(4) + checksum(4).
const HeaderSize = 4 + 4 + 16 + 4 + 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed prefix of every datagram.
type Header struct {
	Type          MessageType
	TransactionID uuid.UUID
	BodyLen       uint32
	Checksum      uint32 // CRC32C over the body that follows
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Type))
	copy(buf[8:24], h.TransactionID[:])
	binary.BigEndian.PutUint32(buf[24:28], h.BodyLen)
	binary.BigEndian.PutUint32(buf[28:32], h.Checksum)
	return buf
}

// decodeHeader validates the magic prefix, the declared body length
// against the datagram actually received, and the CRC32C checksum
// over the body — a receiver must reject before deserializing the
// body, matching spec.md §7's Corrupted handling.
func decodeHeader(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderSize {
		return Header{}, nil, fmt.Errorf("dhtproto: datagram shorter than header (%d bytes): %w", len(datagram), dhterr.ErrProtocol)
	}
	if magic := binary.BigEndian.Uint32(datagram[0:4]); magic != Magic {
		return Header{}, nil, fmt.Errorf("dhtproto: bad magic %#x: %w", magic, dhterr.ErrProtocol)
	}
	h := Header{
		Type:     MessageType(binary.BigEndian.Uint32(datagram[4:8])),
		BodyLen:  binary.BigEndian.Uint32(datagram[24:28]),
		Checksum: binary.BigEndian.Uint32(datagram[28:32]),
	}
	copy(h.TransactionID[:], datagram[8:24])

	body := datagram[HeaderSize:]
	if uint32(len(body)) != h.BodyLen {
		return Header{}, nil, fmt.Errorf("dhtproto: body_len %d does not match actual %d: %w", h.BodyLen, len(body), dhterr.ErrProtocol)
	}
	if got := crc32.Checksum(body, castagnoli); got != h.Checksum {
		return Header{}, nil, fmt.Errorf("dhtproto: checksum mismatch (got %#x, want %#x): %w", got, h.Checksum, dhterr.ErrCorrupted)
	}
	return h, body, nil
}

func frame(t MessageType, txID uuid.UUID, body []byte) []byte {
	h := Header{
		Type:          t,
		TransactionID: txID,
		BodyLen:       uint32(len(body)),
		Checksum:      crc32.Checksum(body, castagnoli),
	}
	return append(encodeHeader(h), body...)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(b)))
	buf.Write(lenField[:])
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var lenField [4]byte
	if _, err := readFull(r, lenField[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenField[:])
	if uint32(r.Len()) < n {
		return nil, fmt.Errorf("dhtproto: length-prefixed field claims %d bytes, only %d remain: %w", n, r.Len(), dhterr.ErrProtocol)
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil || n != len(b) {
		return n, fmt.Errorf("dhtproto: truncated field: %w", dhterr.ErrProtocol)
	}
	return n, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---- PingRequest / PingResponse: empty bodies ----

func EncodePingRequest(txID uuid.UUID) []byte {
	return frame(PingRequest, txID, nil)
}

func EncodePingResponse(txID uuid.UUID) []byte {
	return frame(PingResponse, txID, nil)
}

func DecodePingRequest(datagram []byte) (uuid.UUID, PingRequestMessage, error) {
	h, _, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, PingRequestMessage{}, err
	}
	if h.Type != PingRequest {
		return uuid.UUID{}, PingRequestMessage{}, wrongType(PingRequest, h.Type)
	}
	return h.TransactionID, PingRequestMessage{}, nil
}

func DecodePingResponse(datagram []byte) (uuid.UUID, PingResponseMessage, error) {
	h, _, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, PingResponseMessage{}, err
	}
	if h.Type != PingResponse {
		return uuid.UUID{}, PingResponseMessage{}, wrongType(PingResponse, h.Type)
	}
	return h.TransactionID, PingResponseMessage{}, nil
}

// ---- FindNodeRequest ----

func EncodeFindNodeRequest(txID uuid.UUID, m FindNodeRequestMessage) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, m.Key)
	return frame(FindNodeRequest, txID, buf.Bytes())
}

func DecodeFindNodeRequest(datagram []byte) (uuid.UUID, FindNodeRequestMessage, error) {
	h, body, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, FindNodeRequestMessage{}, err
	}
	if h.Type != FindNodeRequest {
		return uuid.UUID{}, FindNodeRequestMessage{}, wrongType(FindNodeRequest, h.Type)
	}
	key, err := readBytes(bytes.NewReader(body))
	if err != nil {
		return uuid.UUID{}, FindNodeRequestMessage{}, err
	}
	return h.TransactionID, FindNodeRequestMessage{Key: key}, nil
}

// ---- FindValueRequest ----

func EncodeFindValueRequest(txID uuid.UUID, m FindValueRequestMessage) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, m.Key)
	return frame(FindValueRequest, txID, buf.Bytes())
}

func DecodeFindValueRequest(datagram []byte) (uuid.UUID, FindValueRequestMessage, error) {
	h, body, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, FindValueRequestMessage{}, err
	}
	if h.Type != FindValueRequest {
		return uuid.UUID{}, FindValueRequestMessage{}, wrongType(FindValueRequest, h.Type)
	}
	key, err := readBytes(bytes.NewReader(body))
	if err != nil {
		return uuid.UUID{}, FindValueRequestMessage{}, err
	}
	return h.TransactionID, FindValueRequestMessage{Key: key}, nil
}

// ---- StoreValueRequest ----

func EncodeStoreValueRequest(txID uuid.UUID, m StoreValueRequestMessage) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, m.Key)
	writeBytes(&buf, m.Data)
	var lvl [4]byte
	binary.BigEndian.PutUint32(lvl[:], m.ReplicationLevel)
	buf.Write(lvl[:])
	return frame(StoreValueRequest, txID, buf.Bytes())
}

func DecodeStoreValueRequest(datagram []byte) (uuid.UUID, StoreValueRequestMessage, error) {
	h, body, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, StoreValueRequestMessage{}, err
	}
	if h.Type != StoreValueRequest {
		return uuid.UUID{}, StoreValueRequestMessage{}, wrongType(StoreValueRequest, h.Type)
	}
	r := bytes.NewReader(body)
	key, err := readBytes(r)
	if err != nil {
		return uuid.UUID{}, StoreValueRequestMessage{}, err
	}
	data, err := readBytes(r)
	if err != nil {
		return uuid.UUID{}, StoreValueRequestMessage{}, err
	}
	var lvl [4]byte
	if _, err := readFull(r, lvl[:]); err != nil {
		return uuid.UUID{}, StoreValueRequestMessage{}, err
	}
	return h.TransactionID, StoreValueRequestMessage{
		Key:              key,
		Data:             data,
		ReplicationLevel: binary.BigEndian.Uint32(lvl[:]),
	}, nil
}

// ---- FindNodeResponse ----

func EncodeFindNodeResponse(txID uuid.UUID, m FindNodeResponseMessage) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(m.Nodes)))
	buf.Write(count[:])
	for _, n := range m.Nodes {
		writeString(&buf, n)
	}
	return frame(FindNodeResponse, txID, buf.Bytes())
}

func DecodeFindNodeResponse(datagram []byte) (uuid.UUID, FindNodeResponseMessage, error) {
	h, body, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, FindNodeResponseMessage{}, err
	}
	if h.Type != FindNodeResponse {
		return uuid.UUID{}, FindNodeResponseMessage{}, wrongType(FindNodeResponse, h.Type)
	}
	r := bytes.NewReader(body)
	var count [4]byte
	if _, err := readFull(r, count[:]); err != nil {
		return uuid.UUID{}, FindNodeResponseMessage{}, err
	}
	n := binary.BigEndian.Uint32(count[:])
	nodes := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return uuid.UUID{}, FindNodeResponseMessage{}, err
		}
		nodes = append(nodes, s)
	}
	return h.TransactionID, FindNodeResponseMessage{Nodes: nodes}, nil
}

// ---- FindValueResponse ----

func EncodeFindValueResponse(txID uuid.UUID, m FindValueResponseMessage) ([]byte, error) {
	if (m.Node == nil) == (m.Data == nil) {
		return nil, fmt.Errorf("dhtproto: FindValueResponseMessage must set exactly one of Node or Data: %w", dhterr.ErrInvalid)
	}
	var buf bytes.Buffer
	writeBytes(&buf, m.Key)
	if m.Node != nil {
		buf.WriteByte(1)
		writeString(&buf, *m.Node)
	} else {
		buf.WriteByte(0)
		writeBytes(&buf, m.Data)
	}
	return frame(FindValueResponse, txID, buf.Bytes()), nil
}

func DecodeFindValueResponse(datagram []byte) (uuid.UUID, FindValueResponseMessage, error) {
	h, body, err := decodeHeader(datagram)
	if err != nil {
		return uuid.UUID{}, FindValueResponseMessage{}, err
	}
	if h.Type != FindValueResponse {
		return uuid.UUID{}, FindValueResponseMessage{}, wrongType(FindValueResponse, h.Type)
	}
	r := bytes.NewReader(body)
	key, err := readBytes(r)
	if err != nil {
		return uuid.UUID{}, FindValueResponseMessage{}, err
	}
	tag, err := r.ReadByte()
	if err != nil {
		return uuid.UUID{}, FindValueResponseMessage{}, fmt.Errorf("dhtproto: truncated find_value_response tag: %w", dhterr.ErrProtocol)
	}
	m := FindValueResponseMessage{Key: key}
	switch tag {
	case 1:
		s, err := readString(r)
		if err != nil {
			return uuid.UUID{}, FindValueResponseMessage{}, err
		}
		m.Node = &s
	case 0:
		data, err := readBytes(r)
		if err != nil {
			return uuid.UUID{}, FindValueResponseMessage{}, err
		}
		m.Data = data
	default:
		return uuid.UUID{}, FindValueResponseMessage{}, fmt.Errorf("dhtproto: bad find_value_response tag %d: %w", tag, dhterr.ErrProtocol)
	}
	return h.TransactionID, m, nil
}

// PeekType reports a datagram's message type and transaction id
// without parsing the body's fields. It runs the full header check
// (magic, body length and CRC32C over the body), so a datagram it
// accepts has already passed framing validation — used by a receive
// loop to decide which Decode* function to call next.
func PeekType(datagram []byte) (MessageType, uuid.UUID, error) {
	h, _, err := decodeHeader(datagram)
	if err != nil {
		return 0, uuid.UUID{}, err
	}
	return h.Type, h.TransactionID, nil
}

func wrongType(want, got MessageType) error {
	return fmt.Errorf("dhtproto: expected %s, got %s: %w", want, got, dhterr.ErrProtocol)
}
