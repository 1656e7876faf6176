package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"lanchat/models"
)

// ClientConfig controls outbound one-shot exchanges.
type ClientConfig struct {
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	MessageLinger time.Duration
	FileLinger    time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.IOTimeout <= 0 {
		out.IOTimeout = DefaultIOTimeout
	}
	if out.MessageLinger <= 0 {
		out.MessageLinger = DefaultMessageLinger
	}
	if out.FileLinger <= 0 {
		out.FileLinger = DefaultFileLinger
	}
	return out
}

// Client opens a fresh connection for every request.
type Client struct {
	cfg ClientConfig
}

// NewClient returns a client with defaults applied.
func NewClient(config ClientConfig) *Client {
	return &Client{cfg: config.withDefaults()}
}

func (c *Client) dial(ctx context.Context, address string) (*idleConn, func(), error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %q: %w", address, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	release := func() {
		stop()
		_ = conn.Close()
	}
	return &idleConn{Conn: conn, timeout: c.cfg.IOTimeout}, release, nil
}

// SendHeader delivers a header-only exchange such as MSG, TCP_OFFLINE or a call signal.
func (c *Client) SendHeader(ctx context.Context, address, header string) error {
	conn, release, err := c.dial(ctx, address)
	if err != nil {
		return err
	}
	defer release()

	w := bufio.NewWriter(conn)
	if err := WriteHeader(w, header); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}
	linger(conn.Conn, c.cfg.MessageLinger)
	return nil
}

// SendMessage delivers MSG:<sender>: <text>.
func (c *Client) SendMessage(ctx context.Context, address, sender, text string) error {
	return c.SendHeader(ctx, address, MessageHeader(sender, text))
}

// SendOffline delivers TCP_OFFLINE:<nick>.
func (c *Client) SendOffline(ctx context.Context, address, nickname string) error {
	return c.SendHeader(ctx, address, OfflineHeader(nickname))
}

// SendCallSignal delivers one call-signaling header.
func (c *Client) SendCallSignal(ctx context.Context, address, self string, signal CallSignal) error {
	var header string
	switch signal.Kind {
	case KindCallRequest:
		header = joinHeader(signal.Kind, self, strconv.Itoa(signal.Port))
	case KindSDPOffer, KindSDPAnswer, KindICECandidate:
		header = joinHeader(signal.Kind, self, signal.Payload)
	case KindCallEnd:
		header = joinHeader(signal.Kind, self)
	default:
		return fmt.Errorf("network: %q is not a call signal", signal.Kind)
	}
	return c.SendHeader(ctx, address, header)
}

// SendFile streams the file at path as FILE:<sender>:<name>:<size>.
func (c *Client) SendFile(ctx context.Context, address, sender, path string) (int64, error) {
	f, name, size, err := openForSend(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	conn, release, err := c.dial(ctx, address)
	if err != nil {
		return 0, err
	}
	defer release()

	w := bufio.NewWriterSize(conn, FileBufferSize)
	if err := WriteHeader(w, FileHeader(sender, name, size)); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("flush file header: %w", err)
	}
	if err := streamBody(w, f, size); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("flush file body: %w", err)
	}
	linger(conn.Conn, c.cfg.FileLinger)
	return size, nil
}

// RequestGroupFile pulls name from the group member at address and stores it.
// An ERROR reply is returned as *RemoteError.
func (c *Client) RequestGroupFile(ctx context.Context, address, group, name string, files *FileStore) (models.ReceivedFile, error) {
	if files == nil {
		return models.ReceivedFile{}, errors.New("network: file store is required")
	}

	conn, release, err := c.dial(ctx, address)
	if err != nil {
		return models.ReceivedFile{}, err
	}
	defer release()

	w := bufio.NewWriter(conn)
	if err := WriteHeader(w, RequestGroupFileHeader(group, name)); err != nil {
		return models.ReceivedFile{}, err
	}
	if err := w.Flush(); err != nil {
		return models.ReceivedFile{}, fmt.Errorf("flush request: %w", err)
	}

	r := bufio.NewReaderSize(conn, FileBufferSize)
	raw, err := ReadHeader(r)
	if err != nil {
		return models.ReceivedFile{}, fmt.Errorf("read group file reply: %w", err)
	}
	reply, err := ParseHeader(raw)
	if err != nil {
		return models.ReceivedFile{}, err
	}

	switch reply.Kind {
	case KindError:
		return models.ReceivedFile{}, &RemoteError{Reason: reply.Field(0)}
	case KindGroupFile:
	default:
		return models.ReceivedFile{}, fmt.Errorf("%w: unexpected %s reply", ErrMalformedHeader, reply.Kind)
	}

	size, err := reply.Size(3)
	if err != nil {
		return models.ReceivedFile{}, err
	}
	path, received, err := files.Receive(r, reply.Field(2), size)
	if err != nil {
		return models.ReceivedFile{}, fmt.Errorf("no file received for %q: %w", name, err)
	}
	return models.ReceivedFile{
		Sender:   reply.Field(1),
		Name:     reply.Field(2),
		Size:     size,
		Received: received,
		Path:     path,
		Group:    reply.Field(0),
	}, nil
}
