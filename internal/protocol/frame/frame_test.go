package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/setl/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.NewU32(1, 7), tlv.NewBytes(2, []byte("XOOX"))})
	in := Frame{
		Header:  Header{Kind: 4, Seq: 42, Flags: 0x5},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Kind != 4 || out.Header.Seq != 42 || out.Header.Flags != 0x5 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if out.Header.Magic != Magic || out.Header.PayloadLen != uint32(len(payload)) {
		t.Fatalf("header not stamped: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

// rawHeader encodes h as given, without Marshal stamping magic and lengths.
func rawHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	putHeader(buf, h)
	return buf
}

func TestReadFrameRejectsForeignMagic(t *testing.T) {
	buf := rawHeader(Header{Magic: 1, Version: Version, HeaderLen: FixedHeaderLen})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFrameHeaderLenMismatch(t *testing.T) {
	buf := rawHeader(Header{Magic: Magic, Version: Version, HeaderLen: 8})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenMismatch) {
		t.Fatalf("expected ErrHeaderLenMismatch, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	b, err := Marshal(Frame{Header: Header{Kind: 1}, Payload: []byte("abcdef")}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(b[:len(b)-2]), DefaultLimits())
	if !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func TestPayloadLimit(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	if _, err := Marshal(Frame{Payload: make([]byte, 5)}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
	b, _ := Marshal(Frame{Payload: make([]byte, 5)}, DefaultLimits())
	if _, err := ReadFrame(bytes.NewReader(b), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}
