package network

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, "MSG:alice: héllo"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if got := buf.Bytes()[:2]; got[0] != 0 || int(got[1]) != len("MSG:alice: héllo") {
		t.Fatalf("unexpected length prefix %v", got)
	}

	header, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if header != "MSG:alice: héllo" {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestWriteHeaderRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHeader(&buf, strings.Repeat("x", MaxHeaderSize+1))
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestReadHeaderRejectsInvalidUTF8(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{0, 2, 0xff, 0xfe}))
	if !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader([]byte{0, 10, 'a'})); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}

func TestParseHeaderFileNameWithSeparators(t *testing.T) {
	h, err := ParseHeader(FileHeader("alice", "a:b.txt", 12))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Field(0) != "alice" || h.Field(1) != "a:b.txt" {
		t.Fatalf("unexpected fields %q", h.Fields)
	}
	if size, err := h.Size(2); err != nil || size != 12 {
		t.Fatalf("expected size 12, got %d err=%v", size, err)
	}
}

func TestParseHeaderGroupFile(t *testing.T) {
	h, err := ParseHeader(GroupFileHeader("team", "bob", "notes.txt", 99))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Field(0) != "team" || h.Field(1) != "bob" || h.Field(2) != "notes.txt" || h.Field(3) != "99" {
		t.Fatalf("unexpected fields %q", h.Fields)
	}
}

func TestParseHeaderCallRequestAcceptsBothSeparators(t *testing.T) {
	for _, raw := range []string{"VIDEO_CALL_REQUEST;bob;6000", "VIDEO_CALL_REQUEST:bob:6000"} {
		h, err := ParseHeader(raw)
		if err != nil {
			t.Fatalf("ParseHeader(%q) failed: %v", raw, err)
		}
		if h.Kind != KindCallRequest || h.Field(0) != "bob" || h.Field(1) != "6000" {
			t.Fatalf("unexpected header %+v", h)
		}
	}
}

func TestParseHeaderICECandidateKeepsColons(t *testing.T) {
	h, err := ParseHeader("VIDEO_ICE_CANDIDATE:bob:candidate:1 1 UDP 2130706431 10.0.0.2 5000 typ host")
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Field(1) != "candidate:1 1 UDP 2130706431 10.0.0.2 5000 typ host" {
		t.Fatalf("unexpected payload %q", h.Field(1))
	}
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "HELLO:x", "MSG", "FILE:alice:1", "REQUEST_GROUP_FILE:team", "VIDEO_CALL_REQUEST:bob"} {
		if _, err := ParseHeader(raw); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader for %q, got %v", raw, err)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	sender, text := SplitMessage("alice: hi: there")
	if sender != "alice" || text != "hi: there" {
		t.Fatalf("unexpected split %q %q", sender, text)
	}
	sender, text = SplitMessage("no sender here")
	if sender != "" || text != "no sender here" {
		t.Fatalf("expected raw text without sender, got %q %q", sender, text)
	}
}
