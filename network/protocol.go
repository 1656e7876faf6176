package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxHeaderSize is the largest header a u16 length prefix can carry.
	MaxHeaderSize = 1<<16 - 1
	// DefaultDialTimeout bounds TCP connect.
	DefaultDialTimeout = 5 * time.Second
	// DefaultHeaderTimeout bounds reading the header of an accepted connection.
	DefaultHeaderTimeout = 10 * time.Second
	// DefaultIOTimeout is the idle limit between reads or writes of a body.
	DefaultIOTimeout = 30 * time.Second
	// DefaultMessageLinger holds a connection open after a header-only send.
	DefaultMessageLinger = 50 * time.Millisecond
	// DefaultFileLinger holds a connection open after streaming a file body.
	DefaultFileLinger = 100 * time.Millisecond

	headerSeparator = ":"
)

// HeaderKind is the leading token of a TCP header.
type HeaderKind string

const (
	KindMessage          HeaderKind = "MSG"
	KindFile             HeaderKind = "FILE"
	KindRequestGroupFile HeaderKind = "REQUEST_GROUP_FILE"
	KindGroupFile        HeaderKind = "GROUP_FILE"
	KindError            HeaderKind = "ERROR"
	KindOffline          HeaderKind = "TCP_OFFLINE"
	KindCallRequest      HeaderKind = "VIDEO_CALL_REQUEST"
	KindSDPOffer         HeaderKind = "VIDEO_SDP_OFFER"
	KindSDPAnswer        HeaderKind = "VIDEO_SDP_ANSWER"
	KindICECandidate     HeaderKind = "VIDEO_ICE_CANDIDATE"
	KindCallEnd          HeaderKind = "VIDEO_CALL_END"
)

// Reasons carried by ERROR replies to a group file pull.
const (
	ReasonNotInGroup   = "Not in group"
	ReasonFileNotFound = "File not found"
)

var (
	// ErrHeaderTooLarge indicates a header longer than MaxHeaderSize bytes.
	ErrHeaderTooLarge = errors.New("network: header exceeds max size")
	// ErrMalformedHeader indicates bad UTF-8, a wrong field count or a bad number.
	ErrMalformedHeader = errors.New("network: malformed header")
	// ErrNotInGroup is returned by a Handler refusing a pull from a group it left.
	ErrNotInGroup = errors.New("network: not in group")
	// ErrFileNotFound is returned by a Handler with no catalog entry for a pull.
	ErrFileNotFound = errors.New("network: file not found")
)

// RemoteError is an ERROR:<reason> reply from a peer.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return "network: remote error: " + e.Reason
}

// WriteHeader writes one u16 big-endian length-prefixed UTF-8 header.
func WriteHeader(w io.Writer, header string) error {
	if len(header) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	buf := make([]byte, 2+len(header))
	binary.BigEndian.PutUint16(buf, uint16(len(header)))
	copy(buf[2:], header)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// ReadHeader reads one length-prefixed header.
func ReadHeader(r io.Reader) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", fmt.Errorf("read header length: %w", err)
	}

	length := binary.BigEndian.Uint16(prefix[:])
	if length == 0 {
		return "", nil
	}
	raw := make([]byte, int(length))
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("read header payload: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrMalformedHeader)
	}
	return string(raw), nil
}

// Header is a decoded TCP header. Fields exclude the kind token.
type Header struct {
	Kind   HeaderKind
	Fields []string
	Raw    string
}

// ParseHeader splits a header into kind and fields, applying per-kind rules
// so free-text fields keep embedded separators.
func ParseHeader(raw string) (Header, error) {
	// VIDEO_CALL_REQUEST historically used `;` on TCP as well.
	if strings.HasPrefix(raw, string(KindCallRequest)+";") {
		raw = strings.ReplaceAll(raw, ";", headerSeparator)
	}

	kindToken, rest, found := strings.Cut(raw, headerSeparator)
	kind := HeaderKind(kindToken)
	h := Header{Kind: kind, Raw: raw}

	switch kind {
	case KindMessage, KindError, KindOffline, KindCallEnd:
		if !found {
			return Header{}, fmt.Errorf("%w: %s without body", ErrMalformedHeader, kind)
		}
		h.Fields = []string{rest}
	case KindSDPOffer, KindSDPAnswer, KindICECandidate, KindRequestGroupFile:
		first, second, ok := strings.Cut(rest, headerSeparator)
		if !found || !ok || first == "" {
			return Header{}, fmt.Errorf("%w: %s needs 2 fields", ErrMalformedHeader, kind)
		}
		h.Fields = []string{first, second}
	case KindCallRequest:
		parts := strings.Split(rest, headerSeparator)
		if !found || len(parts) != 2 || parts[0] == "" {
			return Header{}, fmt.Errorf("%w: %s needs 2 fields", ErrMalformedHeader, kind)
		}
		h.Fields = parts
	case KindFile:
		// FILE:<sender>:<name...>:<size>
		parts := strings.Split(rest, headerSeparator)
		if !found || len(parts) < 3 {
			return Header{}, fmt.Errorf("%w: %s needs 3 fields", ErrMalformedHeader, kind)
		}
		n := len(parts)
		h.Fields = []string{parts[0], strings.Join(parts[1:n-1], headerSeparator), parts[n-1]}
	case KindGroupFile:
		// GROUP_FILE:<group>:<sender>:<name...>:<size>
		parts := strings.Split(rest, headerSeparator)
		if !found || len(parts) < 4 {
			return Header{}, fmt.Errorf("%w: %s needs 4 fields", ErrMalformedHeader, kind)
		}
		n := len(parts)
		h.Fields = []string{parts[0], parts[1], strings.Join(parts[2:n-1], headerSeparator), parts[n-1]}
	default:
		return Header{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedHeader, kindToken)
	}
	return h, nil
}

// Field returns the i-th field or "".
func (h Header) Field(i int) string {
	if i < 0 || i >= len(h.Fields) {
		return ""
	}
	return h.Fields[i]
}

// Size parses the i-th field as a non-negative byte count.
func (h Header) Size(i int) (int64, error) {
	size, err := strconv.ParseInt(h.Field(i), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: bad size %q", ErrMalformedHeader, h.Field(i))
	}
	return size, nil
}

func joinHeader(kind HeaderKind, fields ...string) string {
	return string(kind) + headerSeparator + strings.Join(fields, headerSeparator)
}

// MessageHeader builds MSG:<sender>: <text>.
func MessageHeader(sender, text string) string {
	return joinHeader(KindMessage, sender+": "+text)
}

// FileHeader builds FILE:<sender>:<name>:<size>.
func FileHeader(sender, name string, size int64) string {
	return joinHeader(KindFile, sender, name, strconv.FormatInt(size, 10))
}

// RequestGroupFileHeader builds REQUEST_GROUP_FILE:<group>:<name>.
func RequestGroupFileHeader(group, name string) string {
	return joinHeader(KindRequestGroupFile, group, name)
}

// GroupFileHeader builds GROUP_FILE:<group>:<sender>:<name>:<size>.
func GroupFileHeader(group, sender, name string, size int64) string {
	return joinHeader(KindGroupFile, group, sender, name, strconv.FormatInt(size, 10))
}

// ErrorHeader builds ERROR:<reason>.
func ErrorHeader(reason string) string {
	return joinHeader(KindError, reason)
}

// OfflineHeader builds TCP_OFFLINE:<nick>.
func OfflineHeader(nickname string) string {
	return joinHeader(KindOffline, nickname)
}

// SplitMessage separates the `<sender>: ` prefix from a MSG body.
func SplitMessage(body string) (sender, text string) {
	sender, text, ok := strings.Cut(body, ": ")
	if !ok || sender == "" || strings.ContainsAny(sender, ";:") {
		return "", body
	}
	return sender, text
}
