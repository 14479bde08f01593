package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

const (
	spoolDirPermissions = 0o750
	spoolFilePattern    = "speech-*"
	memorySpoolDir      = "/spool"
)

// Static errors.
var (
	ErrEmptyAudio    = errors.New("audio data cannot be empty")
	ErrResultClaimed = errors.New("audio result already consumed")
)

// Spool holds produced audio between synthesis and the response writer.
// Each stored clip is read back exactly once and then removed.
type Spool struct {
	fs  afero.Fs
	dir string
}

// NewSpool creates a spool rooted at dir on the given filesystem.
func NewSpool(fs afero.Fs, dir string) (*Spool, error) {
	err := fs.MkdirAll(dir, spoolDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	return &Spool{fs: fs, dir: dir}, nil
}

// NewMemorySpool creates a spool backed by an in-memory filesystem.
func NewMemorySpool() *Spool {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll(memorySpoolDir, spoolDirPermissions)

	return &Spool{fs: fs, dir: memorySpoolDir}
}

// Put writes the audio to a new spool file and returns a result referring
// to it.
func (s *Spool) Put(data []byte, format Format) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	file, err := afero.TempFile(s.fs, s.dir, spoolFilePattern+format.Extension())
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()

	if writeErr != nil {
		_ = s.fs.Remove(file.Name())

		return nil, fmt.Errorf("failed to write spool file: %w", writeErr)
	}

	if closeErr != nil {
		_ = s.fs.Remove(file.Name())

		return nil, fmt.Errorf("failed to close spool file: %w", closeErr)
	}

	return &Result{
		Format:   format,
		MIMEType: format.MIMEType(),
		Size:     int64(len(data)),
		fs:       s.fs,
		path:     file.Name(),
		mu:       sync.Mutex{},
		consumed: false,
	}, nil
}

// Pending reports how many clips are waiting to be consumed.
func (s *Spool) Pending() (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list spool directory: %w", err)
	}

	return len(entries), nil
}

// Result is a reference to produced audio plus its MIME type.
type Result struct {
	Format   Format
	MIMEType string
	Size     int64

	fs       afero.Fs
	path     string
	mu       sync.Mutex
	consumed bool
}

// Path returns the spool location of the audio.
func (r *Result) Path() string {
	return r.path
}

// Consume reads the audio and removes it from the spool. A second call
// returns ErrResultClaimed.
func (r *Result) Consume() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil, ErrResultClaimed
	}

	r.consumed = true

	data, readErr := afero.ReadFile(r.fs, r.path)
	removeErr := r.fs.Remove(r.path)

	if readErr != nil {
		return nil, fmt.Errorf("failed to read spooled audio %s: %w", r.path, readErr)
	}

	if removeErr != nil {
		return data, fmt.Errorf("failed to remove spooled audio %s: %w", r.path, removeErr)
	}

	return data, nil
}

// Release removes the audio without reading it. It is a no-op once the
// result has been consumed.
func (r *Result) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil
	}

	r.consumed = true

	err := r.fs.Remove(r.path)
	if err != nil {
		return fmt.Errorf("failed to remove spooled audio %s: %w", r.path, err)
	}

	return nil
}
