// Package camera supplies frames to the workers. The station camera SDK is
// reached through Source; DirectorySource replays image files and stands in
// for the device on development machines and in tests.
package camera

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

var (
	ErrNoCamera       = errors.New("no camera available")
	ErrAcquireTimeout = errors.New("frame acquisition timed out")
	ErrClosed         = errors.New("camera closed")
)

type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}

type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Acquire reads one frame, giving up after timeout. A read still in flight
// when the timeout fires finishes in the background and its frame is dropped.
func Acquire(ctx context.Context, src Source, timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		return src.Read(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		frame Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := src.Read(ctx)
		ch <- result{frame, err}
	}()

	select {
	case res := <-ch:
		return res.frame, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Frame{}, ErrAcquireTimeout
		}
		return Frame{}, ctx.Err()
	}
}

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirectorySource cycles through the images in Dir in name order.
type DirectorySource struct {
	Dir string

	mu     sync.Mutex
	files  []string
	next   int
	seq    uint64
	opened bool
}

func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{Dir: dir}
}

func (s *DirectorySource) Open(_ context.Context) error {
	if s.Dir == "" {
		return ErrNoCamera
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return errors.Join(ErrNoCamera, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.Dir, entry.Name()))
	}
	if len(files) == 0 {
		return ErrNoCamera
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	s.next = 0
	s.opened = true
	return nil
}

func (s *DirectorySource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return Frame{}, ErrClosed
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Image: img, Seq: seq, CapturedAt: time.Now()}, nil
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.files = nil
	return nil
}
