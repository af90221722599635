// Package display holds the headless image sink.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// Dir writes every shown image as a numbered PNG, continuing after the
// highest number already in the directory. It stays open until Close is
// called or the directory is removed out from under it.
type Dir struct {
	path string

	mu     sync.Mutex
	n      int
	last   int
	closed bool
}

func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	last, err := lastIndex(abs)
	if err != nil {
		return nil, err
	}
	return &Dir{path: abs, last: last}, nil
}

func lastIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan output dir: %w", err)
	}
	last := 0
	for _, e := range entries {
		var i int
		if _, err := fmt.Sscanf(e.Name(), "image-%d.png", &i); err == nil {
			last = max(last, i)
		}
	}
	return last, nil
}

func (d *Dir) Path() string { return d.path }

// Count is the number of images written so far.
func (d *Dir) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func (d *Dir) Open() bool {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return false
	}
	fi, err := os.Stat(d.path)
	return err == nil && fi.IsDir()
}

func (d *Dir) Show(img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return os.ErrClosed
	}
	var name string
	var f *os.File
	for {
		d.last++
		name = filepath.Join(d.path, fmt.Sprintf("image-%04d.png", d.last))
		var err error
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(name)
		return fmt.Errorf("encode %s: %w", filepath.Base(name), err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	d.n++
	return nil
}

func (d *Dir) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
