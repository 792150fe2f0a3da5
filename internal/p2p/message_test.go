package p2p

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	f := Frame{RequestID: 42, Code: CodeBlockHeaders, Payload: []byte("hello block headers")}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.RequestID != f.RequestID || got.Code != f.Code || string(got.Payload) != string(f.Payload) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestReadFrameHandlesEmptyPayload(t *testing.T) {
	f := Frame{RequestID: 1, Code: CodePing}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got.Payload))
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0) // requestId = 0
	buf.WriteByte(byte(CodeStatus))
	// Encode a length far beyond maxFrameSize as a uvarint by writing a
	// plain reader that doesn't need a real payload to follow, since
	// ReadFrame should reject before trying to read it.
	huge := uint64(maxFrameSize) + 1
	var lenBuf [10]byte
	n := 0
	for huge >= 0x80 {
		lenBuf[n] = byte(huge) | 0x80
		huge >>= 7
		n++
	}
	lenBuf[n] = byte(huge)
	n++
	buf.Write(lenBuf[:n])

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	} else if !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected a 'too large' error, got %v", err)
	}
}

func TestReadFrameWorksOverPlainReaderWithoutReadByte(t *testing.T) {
	f := Frame{RequestID: 7, Code: CodeNewBlock, Payload: []byte("block-bytes")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	r := plainReader{r: &buf}
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("read frame over plain reader: %v", err)
	}
	if got.RequestID != f.RequestID || string(got.Payload) != string(f.Payload) {
		t.Fatalf("round-trip mismatch over plain reader: got %+v", got)
	}
}

// plainReader strips away bytes.Buffer's ReadByte method so ReadFrame is
// forced through the byteReaderAdapter fallback path.
type plainReader struct{ r *bytes.Buffer }

func (p plainReader) Read(b []byte) (int, error) { return p.r.Read(b) }
