// Package p2p is the wire protocol and peer registry: a length-prefixed
// frame codec, the fixed message-code table, peer reputation/banning, and
// the header-sync driver (spec §4.H). Grounded on the teacher's libp2p host
// setup (core/network.go NewNode: host + gossipsub + mDNS) and its peer
// bookkeeping (core/peer_management.go, core/connection_pool.go), adapted
// from the teacher's ad hoc JSON-over-pubsub messages to a fixed binary
// frame since this spec defines an explicit wire format.
package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageCode is the wire message type tag (spec §4.H message table).
type MessageCode uint8

const (
	CodeStatus               MessageCode = 0
	CodeDisconnect            MessageCode = 1
	CodePing                  MessageCode = 2
	CodePong                  MessageCode = 3
	CodeNewBlock              MessageCode = 20
	CodeGetBlockHeaders       MessageCode = 40
	CodeBlockHeaders          MessageCode = 41
	CodeGetBlockBodies        MessageCode = 42
	CodeBlockBodies           MessageCode = 43
	CodeNewMempoolTx          MessageCode = 60
	CodeGetMempoolHashes      MessageCode = 61
	CodeMempoolHashes         MessageCode = 62
	CodeGetMempoolTransactions MessageCode = 63
	CodeMempoolTransactions   MessageCode = 64
)

// Frame is one wire message: {requestId, type varint, payloadLength,
// payload} (spec §4.H).
type Frame struct {
	RequestID uint64
	Code      MessageCode
	Payload   []byte
}

// maxFrameSize bounds a single frame's payload to guard against a
// malicious or corrupt length prefix requesting an unbounded allocation.
const maxFrameSize = 32 << 20

// WriteFrame encodes f to w: requestId and payload length as binary
// uvarints, code as a single byte, then the raw payload.
func WriteFrame(w io.Writer, f Frame) error {
	var hdr [binary.MaxVarintLen64*2 + 1]byte
	n := binary.PutUvarint(hdr[:], f.RequestID)
	hdr[n] = byte(f.Code)
	n++
	n += binary.PutUvarint(hdr[n:], uint64(len(f.Payload)))
	if _, err := w.Write(hdr[:n]); err != nil {
		return fmt.Errorf("p2p: write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("p2p: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame decodes one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReaderAdapter{r: r}
	}
	requestID, err := binary.ReadUvarint(br)
	if err != nil {
		return Frame{}, fmt.Errorf("p2p: read request id: %w", err)
	}
	codeByte, err := br.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("p2p: read code: %w", err)
	}
	length, err := binary.ReadUvarint(br)
	if err != nil {
		return Frame{}, fmt.Errorf("p2p: read length: %w", err)
	}
	if length > maxFrameSize {
		return Frame{}, fmt.Errorf("p2p: frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("p2p: read payload: %w", err)
		}
	}
	return Frame{RequestID: requestID, Code: MessageCode(codeByte), Payload: payload}, nil
}

// byteReaderAdapter wraps an io.Reader without ReadByte (e.g. a bare
// network connection) so binary.ReadUvarint can be used directly.
type byteReaderAdapter struct {
	r   io.Reader
	buf [1]byte
}

func (a *byteReaderAdapter) ReadByte() (byte, error) {
	if _, err := io.ReadFull(a.r, a.buf[:]); err != nil {
		return 0, err
	}
	return a.buf[0], nil
}
