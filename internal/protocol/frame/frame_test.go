package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"to_hub":{"message":{"author":"a","origin":"nois","text":"hi"}}}`)
	in := New(TypePacket, 42, payload)
	in.Auth = []byte("join-token")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.MessageType != TypePacket || out.Header.MessageID != 42 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if out.Header.Flags&FlagHasAuth == 0 {
		t.Fatalf("expected auth flag set")
	}
	if string(out.Auth) != "join-token" {
		t.Fatalf("auth mismatch: %q", string(out.Auth))
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameClearsStaleAuthFlag(t *testing.T) {
	testlog.Start(t)
	in := New(TypeAck, 7, nil)
	in.Header.Flags = FlagHasAuth | FlagIsResponse

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Flags&FlagHasAuth != 0 || !out.IsResponse() {
		t.Fatalf("unexpected flags %#x", out.Header.Flags)
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadFrameRejectsForeignHeaders(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		h    Header
		want error
	}{
		{name: "magic", h: Header{Magic: 0xEDCE1001, Version: Version, HeaderLen: FixedHeaderLen}, want: ErrBadMagic},
		{name: "version", h: Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen}, want: ErrUnsupportedVersion},
		{name: "header len", h: Header{Magic: Magic, Version: Version, HeaderLen: 8}, want: ErrHeaderLenTooSmall},
		{name: "auth flag", h: Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, Flags: FlagHasAuth}, want: ErrHeaderLenMismatch},
		{name: "payload", h: Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 1 << 40}, want: ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(EncodeHeader(tc.h)), DefaultLimits())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWriteFrameEnforcesLimits(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxAuthBytes: 2, MaxPayloadBytes: 4}
	f := New(TypePacket, 1, []byte("12345"))
	if err := WriteFrame(io.Discard, f, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	f = New(TypePacket, 1, nil)
	f.Auth = []byte("abc")
	if err := WriteFrame(io.Discard, f, limits); !errors.Is(err, ErrAuthTooLarge) {
		t.Fatalf("expected ErrAuthTooLarge, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	testlog.Start(t)
	if TypeChanOpenConfirm.String() != "chan_open_confirm" {
		t.Fatalf("unexpected name %q", TypeChanOpenConfirm.String())
	}
	if MessageType(99).String() != "type(99)" {
		t.Fatalf("unexpected name %q", MessageType(99).String())
	}
}
