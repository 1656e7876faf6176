package network

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// FileBufferSize is the chunk size for every file read and write.
const FileBufferSize = 4096

const maxNameAttempts = 100

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FileStore writes received files into one download directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("network: download directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the download directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// SanitizeFileName replaces every character outside [a-zA-Z0-9._-] with '_'.
func SanitizeFileName(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "file"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// create opens a fresh `<millis>_<sanitized>` file, adding a counter on collision.
func (s *FileStore) create(name string) (*os.File, string, error) {
	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	safe := SanitizeFileName(name)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate := stamp + "_" + safe
		if attempt > 0 {
			candidate = stamp + "_" + strconv.Itoa(attempt) + "_" + safe
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %q: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("network: no free file name for %q", name)
}

// Receive copies up to size bytes from r into a new file. A stream that ends
// early still yields the partial file; other read errors discard it.
func (s *FileStore) Receive(r io.Reader, name string, size int64) (path string, received int64, err error) {
	f, path, err := s.create(name)
	if err != nil {
		return "", 0, err
	}

	buf := make([]byte, FileBufferSize)
	for received < size {
		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, readErr := r.Read(chunk)
		if n > 0 {
			if _, werr := f.Write(chunk[:n]); werr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return "", received, fmt.Errorf("write %q: %w", path, werr)
			}
			received += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			_ = f.Close()
			_ = os.Remove(path)
			return "", received, fmt.Errorf("read file body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return "", received, fmt.Errorf("close %q: %w", path, err)
	}
	return path, received, nil
}

// openForSend opens path and reports its size and base name.
func openForSend(path string) (*os.File, string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", 0, fmt.Errorf("open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, "", 0, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, "", 0, fmt.Errorf("network: %q is a directory", path)
	}
	return f, filepath.Base(path), info.Size(), nil
}

// streamBody writes exactly size bytes of src to w in FileBufferSize chunks.
func streamBody(w io.Writer, src io.Reader, size int64) error {
	buf := make([]byte, FileBufferSize)
	written, err := io.CopyBuffer(struct{ io.Writer }{w}, io.LimitReader(src, size), buf)
	if err != nil {
		return fmt.Errorf("stream file body: %w", err)
	}
	if written != size {
		return fmt.Errorf("stream file body: wrote %d of %d bytes", written, size)
	}
	return nil
}
