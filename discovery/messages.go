package discovery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the first `;` field of every discovery datagram.
type MessageType string

const (
	TypeOnline           MessageType = "ONLINE"
	TypeOffline          MessageType = "OFFLINE"
	TypeGroupPublic      MessageType = "GROUP_PUBLIC"
	TypeGroupPrivate     MessageType = "GROUP_PRIVATE"
	TypeGroupMessage     MessageType = "GMSG"
	TypeGroupFile        MessageType = "GFILE"
	TypeJoinGroup        MessageType = "JOIN_GROUP"
	TypeLeaveGroup       MessageType = "LEAVE_GROUP"
	TypeVideoCallRequest MessageType = "VIDEO_CALL_REQUEST"
	TypeVideoCallAccept  MessageType = "VIDEO_CALL_ACCEPT"
	TypeVideoCallReject  MessageType = "VIDEO_CALL_REJECT"
	TypeVideoFrame       MessageType = "VIDEO_FRAME"
)

const fieldSeparator = ";"

var (
	// ErrUnknownType marks datagrams from newer or foreign protocols.
	ErrUnknownType = errors.New("discovery: unknown message type")
	// ErrMalformed marks datagrams with the wrong field count or bad numbers.
	ErrMalformed = errors.New("discovery: malformed message")
)

// fieldRule is the accepted field count range after the type token.
// With tail set, the last field absorbs any remaining separators.
type fieldRule struct {
	min, max int
	tail     bool
}

var fieldRules = map[MessageType]fieldRule{
	TypeOnline:           {min: 2, max: 2},
	TypeOffline:          {min: 1, max: 2},
	TypeGroupPublic:      {min: 1, max: 1},
	TypeGroupPrivate:     {min: 1, max: 2},
	TypeGroupMessage:     {min: 3, max: 3, tail: true},
	TypeGroupFile:        {min: 5, max: 5},
	TypeJoinGroup:        {min: 2, max: 2},
	TypeLeaveGroup:       {min: 2, max: 2},
	TypeVideoCallRequest: {min: 2, max: 2},
	TypeVideoCallAccept:  {min: 1, max: 1},
	TypeVideoCallReject:  {min: 1, max: 1},
	TypeVideoFrame:       {min: 3, max: 3, tail: true},
}

// Message is one decoded discovery datagram.
type Message struct {
	Type   MessageType
	Fields []string
	Raw    string
}

// Field returns the i-th field after the type token, or "" when absent.
func (m Message) Field(i int) string {
	if i < 0 || i >= len(m.Fields) {
		return ""
	}
	return m.Fields[i]
}

// Port parses the i-th field as a TCP/UDP port.
func (m Message) Port(i int) (int, error) {
	port, err := strconv.Atoi(m.Field(i))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrMalformed, m.Field(i))
	}
	return port, nil
}

// Parse decodes a raw datagram. Fields are trimmed except for free-text tails,
// which keep every byte apart from NUL padding.
func Parse(raw string) (Message, error) {
	raw = strings.TrimRight(raw, "\x00")
	kind, rest, _ := strings.Cut(raw, fieldSeparator)
	msgType := MessageType(strings.TrimSpace(kind))

	rule, ok := fieldRules[msgType]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
	if msgType == TypeGroupFile {
		return parseGroupFile(raw, rest)
	}

	var fields []string
	if rest != "" || strings.Contains(raw, fieldSeparator) {
		if rule.tail {
			fields = strings.SplitN(rest, fieldSeparator, rule.max)
		} else {
			fields = strings.Split(rest, fieldSeparator)
		}
	}
	if len(fields) < rule.min || len(fields) > rule.max {
		return Message{}, fmt.Errorf("%w: %s has %d fields", ErrMalformed, msgType, len(fields))
	}

	last := len(fields) - 1
	for i := range fields {
		if rule.tail && i == last {
			continue
		}
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" && i < rule.min {
			return Message{}, fmt.Errorf("%w: %s field %d is empty", ErrMalformed, msgType, i)
		}
	}

	return Message{Type: msgType, Fields: fields, Raw: raw}, nil
}

// parseGroupFile keeps separators inside the file name: group and sender come
// from the front, size and port from the back.
func parseGroupFile(raw, rest string) (Message, error) {
	parts := strings.Split(rest, fieldSeparator)
	if len(parts) < 5 {
		return Message{}, fmt.Errorf("%w: %s has %d fields", ErrMalformed, TypeGroupFile, len(parts))
	}
	n := len(parts)
	fields := []string{
		strings.TrimSpace(parts[0]),
		strings.TrimSpace(parts[1]),
		strings.Join(parts[2:n-2], fieldSeparator),
		strings.TrimSpace(parts[n-2]),
		strings.TrimSpace(parts[n-1]),
	}
	for i, f := range fields {
		if f == "" {
			return Message{}, fmt.Errorf("%w: %s field %d is empty", ErrMalformed, TypeGroupFile, i)
		}
	}
	return Message{Type: TypeGroupFile, Fields: fields, Raw: raw}, nil
}

func encode(msgType MessageType, fields ...string) []byte {
	return []byte(string(msgType) + fieldSeparator + strings.Join(fields, fieldSeparator))
}

// EncodeOnline builds ONLINE;nick;port.
func EncodeOnline(nickname string, tcpPort int) []byte {
	return encode(TypeOnline, nickname, strconv.Itoa(tcpPort))
}

// EncodeOffline builds OFFLINE;nick;port.
func EncodeOffline(nickname string, tcpPort int) []byte {
	return encode(TypeOffline, nickname, strconv.Itoa(tcpPort))
}

// EncodeGroupPublic builds GROUP_PUBLIC;name.
func EncodeGroupPublic(name string) []byte {
	return encode(TypeGroupPublic, name)
}

// EncodeGroupPrivate builds GROUP_PRIVATE;name. Passwords never travel here.
func EncodeGroupPrivate(name string) []byte {
	return encode(TypeGroupPrivate, name)
}

// EncodeGroupMessage builds GMSG;group;sender;content.
func EncodeGroupMessage(group, sender, content string) []byte {
	return encode(TypeGroupMessage, group, sender, content)
}

// EncodeGroupFile builds GFILE;group;sender;name;size;port.
func EncodeGroupFile(group, sender, fileName string, size int64, tcpPort int) []byte {
	return encode(TypeGroupFile, group, sender, fileName, strconv.FormatInt(size, 10), strconv.Itoa(tcpPort))
}

// EncodeJoinGroup builds JOIN_GROUP;group;joiner.
func EncodeJoinGroup(group, joiner string) []byte {
	return encode(TypeJoinGroup, group, joiner)
}

// EncodeLeaveGroup builds LEAVE_GROUP;group;leaver.
func EncodeLeaveGroup(group, leaver string) []byte {
	return encode(TypeLeaveGroup, group, leaver)
}

// EncodeVideoCallRequest builds VIDEO_CALL_REQUEST;from;port.
func EncodeVideoCallRequest(from string, tcpPort int) []byte {
	return encode(TypeVideoCallRequest, from, strconv.Itoa(tcpPort))
}

// EncodeVideoCallAccept builds VIDEO_CALL_ACCEPT;from.
func EncodeVideoCallAccept(from string) []byte {
	return encode(TypeVideoCallAccept, from)
}

// EncodeVideoCallReject builds VIDEO_CALL_REJECT;from.
func EncodeVideoCallReject(from string) []byte {
	return encode(TypeVideoCallReject, from)
}

// EncodeVideoFrame builds VIDEO_FRAME;from;to;base64.
func EncodeVideoFrame(from, to, base64Data string) []byte {
	return encode(TypeVideoFrame, from, to, base64Data)
}
