/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package media enumerates the guessable photos and videos in a directory
// and works out how old the subject was when each one was captured.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNoMediaAvailable = errors.New("no eligible media available")
	ErrInvalidPath      = errors.New("invalid media path")
)

const day = 24 * time.Hour

// Kind is the media variant shown to players.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var extensions = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
}

// KindOf classifies a file name by extension. The second return is false
// for anything outside the allow-list.
func KindOf(name string) (Kind, bool) {
	kind, ok := extensions[strings.ToLower(filepath.Ext(name))]

	return kind, ok
}

// Item is a single drawn media file with its age frozen at draw time.
type Item struct {
	Path       string // slash-separated, relative to the catalog directory
	Kind       Kind
	CapturedAt time.Time
	AgeDays    int
}

type Config struct {
	Dir       string
	BirthDate time.Time

	// CaptureTime enables probing EXIF, ffprobe and file names before
	// falling back to the modification time.
	CaptureTime bool

	// IntN overrides the random source, mostly for tests.
	IntN func(n int) int
}

type Catalog struct {
	dir         string
	birthDate   time.Time
	captureTime bool
	intN        func(n int) int
}

func New(cfg *Config) (*Catalog, error) {
	if cfg == nil {
		return nil, errors.New("media config cannot be nil")
	}
	if cfg.Dir == "" {
		return nil, errors.New("media directory is required")
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media directory: %w", err)
	}

	intN := cfg.IntN
	if intN == nil {
		intN = rand.IntN
	}

	return &Catalog{
		dir:         dir,
		birthDate:   cfg.BirthDate,
		captureTime: cfg.CaptureTime,
		intN:        intN,
	}, nil
}

func (c *Catalog) Dir() string {
	return c.dir
}

// List returns every eligible file as a slash-separated relative path, in
// directory walk order.
func (c *Catalog) List() ([]string, error) {
	var files []string

	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == c.dir {
				return err
			}

			return nil
		}

		if strings.HasPrefix(d.Name(), ".") && p != c.dir {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		if _, ok := KindOf(d.Name()); !ok {
			return nil
		}

		rel, err := filepath.Rel(c.dir, p)
		if err != nil {
			return nil
		}

		files = append(files, filepath.ToSlash(rel))

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Pick draws one eligible file uniformly at random. Paths present in exclude
// are skipped unless nothing else is left.
func (c *Catalog) Pick(exclude map[string]bool) (Item, error) {
	files, err := c.List()
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrNoMediaAvailable, err)
	}
	if len(files) == 0 {
		return Item{}, fmt.Errorf("%w in %s", ErrNoMediaAvailable, c.dir)
	}

	candidates := files
	if len(exclude) > 0 {
		fresh := make([]string, 0, len(files))
		for _, f := range files {
			if !exclude[f] {
				fresh = append(fresh, f)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	return c.Load(candidates[c.intN(len(candidates))])
}

// Load builds the Item for a relative path, computing its age once.
func (c *Catalog) Load(rel string) (Item, error) {
	full, err := c.Resolve(rel)
	if err != nil {
		return Item{}, err
	}

	kind, _ := KindOf(full)

	captured, err := c.capturedAt(full, kind)
	if err != nil {
		return Item{}, err
	}

	return Item{
		Path:       rel,
		Kind:       kind,
		CapturedAt: captured,
		AgeDays:    AgeDays(captured, c.birthDate),
	}, nil
}

// Resolve maps a relative media path onto the filesystem, refusing anything
// that escapes the catalog directory or is not on the allow-list.
func (c *Catalog) Resolve(rel string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(rel, "/"))
	if clean == "/" {
		return "", ErrInvalidPath
	}

	full := filepath.Join(c.dir, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, c.dir+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	if _, ok := KindOf(full); !ok {
		return "", ErrInvalidPath
	}

	return full, nil
}

func (c *Catalog) capturedAt(full string, kind Kind) (time.Time, error) {
	if c.captureTime {
		if t, ok := probeCaptureTime(full, kind); ok {
			return t, nil
		}
	}

	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, err
	}

	return info.ModTime().UTC(), nil
}

// AgeDays returns whole days elapsed between birth and captured, never
// negative.
func AgeDays(captured, birth time.Time) int {
	delta := captured.Sub(birth)
	if delta <= 0 {
		return 0
	}

	return int(delta / day)
}

// ParseBirthDate accepts a YYYY-MM-DD date, interpreted as midnight UTC.
func ParseBirthDate(value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid birth date %q (want YYYY-MM-DD): %w", value, err)
	}

	return t.UTC(), nil
}
