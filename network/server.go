package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"lanchat/models"
	"lanchat/pool"
)

// CallSignal is a call-signaling header received over TCP.
type CallSignal struct {
	Kind    HeaderKind
	From    string
	Port    int
	Payload string
}

// Handler receives the outcome of every inbound exchange.
type Handler interface {
	HandleMessage(sender, text, raw string, remote *net.TCPAddr)
	HandleFile(file models.ReceivedFile, remote *net.TCPAddr)
	// ResolveGroupFile returns the local path for a pull, or ErrNotInGroup / ErrFileNotFound.
	ResolveGroupFile(group, fileName string) (string, error)
	HandleOffline(nickname string)
	HandleCallSignal(signal CallSignal, remote *net.TCPAddr)
}

// ServerConfig controls the DirectChannel listener.
type ServerConfig struct {
	Nickname      string
	Handler       Handler
	Files         *FileStore
	Pool          *pool.Pool
	Logger        *log.Logger
	HeaderTimeout time.Duration
	IOTimeout     time.Duration
	FileLinger    time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	out := c
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	if out.HeaderTimeout <= 0 {
		out.HeaderTimeout = DefaultHeaderTimeout
	}
	if out.IOTimeout <= 0 {
		out.IOTimeout = DefaultIOTimeout
	}
	if out.FileLinger <= 0 {
		out.FileLinger = DefaultFileLinger
	}
	return out
}

// Server accepts one-shot TCP exchanges.
type Server struct {
	listener net.Listener
	cfg      ServerConfig

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and accept loop.
func Listen(address string, config ServerConfig) (*Server, error) {
	cfg := config.withDefaults()
	if cfg.Handler == nil {
		return nil, errors.New("network: handler is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("network: file store is required")
	}
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{listener: listener, cfg: cfg, ctx: ctx, cancel: cancel}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close stops accepting and aborts in-flight exchanges.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.cancel()
		closeErr = s.listener.Close()
		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.reportError(fmt.Errorf("accept connection: %w", err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.dispatch(conn)
	}
}

func (s *Server) dispatch(conn net.Conn) {
	s.wg.Add(1)
	if s.cfg.Pool == nil {
		go func() {
			defer s.wg.Done()
			s.handleConn(s.ctx, conn)
		}()
		return
	}

	err := s.cfg.Pool.Submit(func(ctx context.Context) {
		defer s.wg.Done()
		s.handleConn(ctx, conn)
	})
	if err != nil {
		s.wg.Done()
		_ = conn.Close()
		s.reportError(fmt.Errorf("dispatch connection: %w", err))
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stopJob := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopJob()
	stopServer := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stopServer()

	remote, _ := conn.RemoteAddr().(*net.TCPAddr)
	idle := &idleConn{Conn: conn, timeout: s.cfg.HeaderTimeout}
	reader := bufio.NewReaderSize(idle, FileBufferSize)

	raw, err := ReadHeader(reader)
	idle.timeout = s.cfg.IOTimeout
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.reportError(fmt.Errorf("read header from %s: %w", conn.RemoteAddr(), err))
		}
		return
	}
	header, err := ParseHeader(raw)
	if err != nil {
		s.reportError(fmt.Errorf("drop header from %s: %w", conn.RemoteAddr(), err))
		return
	}

	switch header.Kind {
	case KindMessage:
		sender, text := SplitMessage(header.Field(0))
		s.cfg.Handler.HandleMessage(sender, text, header.Field(0), remote)
	case KindFile:
		s.receiveFile(header, reader, remote)
	case KindRequestGroupFile:
		s.serveGroupFile(idle, header)
	case KindOffline:
		if nick := header.Field(0); nick != "" {
			s.cfg.Handler.HandleOffline(nick)
		}
	case KindCallRequest, KindSDPOffer, KindSDPAnswer, KindICECandidate, KindCallEnd:
		signal, err := callSignalFromHeader(header)
		if err != nil {
			s.reportError(err)
			return
		}
		s.cfg.Handler.HandleCallSignal(signal, remote)
	default:
		s.reportError(fmt.Errorf("unexpected %s header from %s", header.Kind, conn.RemoteAddr()))
	}
}

func (s *Server) receiveFile(header Header, r io.Reader, remote *net.TCPAddr) {
	size, err := header.Size(2)
	if err != nil {
		s.reportError(err)
		return
	}
	name := header.Field(1)

	path, received, err := s.cfg.Files.Receive(r, name, size)
	if err != nil {
		s.reportError(fmt.Errorf("no file received for %q: %w", name, err))
		return
	}
	if received < size {
		s.cfg.Logger.Printf("network: partial file name=%q received=%d size=%d", name, received, size)
	}
	s.cfg.Handler.HandleFile(models.ReceivedFile{
		Sender:   header.Field(0),
		Name:     name,
		Size:     size,
		Received: received,
		Path:     path,
	}, remote)
}

func (s *Server) serveGroupFile(conn *idleConn, header Header) {
	group, name := header.Field(0), header.Field(1)
	w := bufio.NewWriterSize(conn, FileBufferSize)

	reject := func(reason string) {
		s.cfg.Logger.Printf("network: refuse group file group=%q name=%q reason=%q", group, name, reason)
		if err := WriteHeader(w, ErrorHeader(reason)); err == nil {
			_ = w.Flush()
		}
	}

	path, err := s.cfg.Handler.ResolveGroupFile(group, name)
	switch {
	case errors.Is(err, ErrNotInGroup):
		reject(ReasonNotInGroup)
		return
	case err != nil:
		reject(ReasonFileNotFound)
		return
	}

	f, _, size, err := openForSend(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			reject(ReasonFileNotFound)
			return
		}
		s.reportError(err)
		reject(ReasonFileNotFound)
		return
	}
	defer f.Close()

	if err := WriteHeader(w, GroupFileHeader(group, s.cfg.Nickname, name, size)); err != nil {
		s.reportError(err)
		return
	}
	if err := w.Flush(); err != nil {
		s.reportError(fmt.Errorf("flush group file header: %w", err))
		return
	}
	if err := streamBody(w, f, size); err != nil {
		s.reportError(err)
		return
	}
	if err := w.Flush(); err != nil {
		s.reportError(fmt.Errorf("flush group file body: %w", err))
		return
	}
	linger(conn.Conn, s.cfg.FileLinger)
}

func callSignalFromHeader(header Header) (CallSignal, error) {
	signal := CallSignal{Kind: header.Kind, From: header.Field(0)}
	if signal.From == "" {
		return CallSignal{}, fmt.Errorf("%w: %s without sender", ErrMalformedHeader, header.Kind)
	}
	switch header.Kind {
	case KindCallRequest:
		port, err := strconv.Atoi(header.Field(1))
		if err != nil || port <= 0 || port > 65535 {
			return CallSignal{}, fmt.Errorf("%w: bad call port %q", ErrMalformedHeader, header.Field(1))
		}
		signal.Port = port
	case KindSDPOffer, KindSDPAnswer, KindICECandidate:
		signal.Payload = header.Field(1)
	}
	return signal, nil
}

func (s *Server) reportError(err error) {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return
	}
	s.cfg.Logger.Printf("network: %v", err)
}

// idleConn refreshes the deadline before every read and write so that a
// stalled peer cannot pin a worker while a long body still makes progress.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}

// linger half-closes the write side and waits up to d for the peer to hang up.
func linger(conn net.Conn, d time.Duration) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	if d <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, _ = io.Copy(io.Discard, conn)
}
