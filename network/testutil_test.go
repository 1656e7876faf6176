package network

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lanchat/models"
)

type groupFileEntry struct {
	joined bool
	files  map[string]string
}

type recordingHandler struct {
	mu      sync.Mutex
	groups  map[string]groupFileEntry
	signals []CallSignal
	offline []string

	messages chan models.DirectMessage
	files    chan models.ReceivedFile
	events   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		groups:   make(map[string]groupFileEntry),
		messages: make(chan models.DirectMessage, 8),
		files:    make(chan models.ReceivedFile, 8),
		events:   make(chan struct{}, 16),
	}
}

func (h *recordingHandler) HandleMessage(sender, text, raw string, _ *net.TCPAddr) {
	h.messages <- models.DirectMessage{From: sender, Text: text, Raw: raw}
}

func (h *recordingHandler) HandleFile(file models.ReceivedFile, _ *net.TCPAddr) {
	h.files <- file
}

func (h *recordingHandler) ResolveGroupFile(group, fileName string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.groups[group]
	if !ok || !entry.joined {
		return "", ErrNotInGroup
	}
	path, ok := entry.files[fileName]
	if !ok {
		return "", ErrFileNotFound
	}
	return path, nil
}

func (h *recordingHandler) HandleOffline(nickname string) {
	h.mu.Lock()
	h.offline = append(h.offline, nickname)
	h.mu.Unlock()
	h.events <- struct{}{}
}

func (h *recordingHandler) HandleCallSignal(signal CallSignal, _ *net.TCPAddr) {
	h.mu.Lock()
	h.signals = append(h.signals, signal)
	h.mu.Unlock()
	h.events <- struct{}{}
}

func (h *recordingHandler) setGroup(name string, joined bool, files map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups[name] = groupFileEntry{joined: joined, files: files}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func startTestServer(t *testing.T, nickname string, handler Handler) (*Server, *FileStore) {
	t.Helper()

	files, err := NewFileStore(filepath.Join(t.TempDir(), "downloads"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	server, err := Listen("127.0.0.1:0", ServerConfig{
		Nickname:   nickname,
		Handler:    handler,
		Files:      files,
		Logger:     quietLogger(),
		FileLinger: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})
	return server, files
}

func testClient() *Client {
	return NewClient(ClientConfig{
		DialTimeout:   2 * time.Second,
		MessageLinger: 10 * time.Millisecond,
		FileLinger:    10 * time.Millisecond,
	})
}

func createFixtureFile(t *testing.T, name string, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}
	return path
}

func assertSameContents(t *testing.T, want, got string) {
	t.Helper()

	wantData, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %q: %v", want, err)
	}
	gotData, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read %q: %v", got, err)
	}
	if len(wantData) != len(gotData) {
		t.Fatalf("size mismatch: want %d got %d", len(wantData), len(gotData))
	}
	for i := range wantData {
		if wantData[i] != gotData[i] {
			t.Fatalf("byte %d differs: want %d got %d", i, wantData[i], gotData[i])
		}
	}
}

func waitForSignal(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %s", timeout)
	}
}

func asRemoteError(err error) (*RemoteError, bool) {
	var remote *RemoteError
	ok := errors.As(err, &remote)
	return remote, ok
}
