/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const (
	exifLayout     = "2006:01:02 15:04:05"
	ffprobeTimeout = 3 * time.Second
)

var (
	nameDateTime = regexp.MustCompile(`(20\d{2})(\d{2})(\d{2})[_-]?(\d{2})(\d{2})(\d{2})`)
	nameDate     = regexp.MustCompile(`(20\d{2})[-_]?(\d{2})[-_]?(\d{2})`)
)

func probeCaptureTime(full string, kind Kind) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)

	switch kind {
	case KindImage:
		t, ok = exifTime(full)
	case KindVideo:
		t, ok = ffprobeTime(full)
	}
	if ok {
		return t, true
	}

	return FilenameTime(filepath.Base(full))
}

func exifTime(full string) (time.Time, bool) {
	f, err := os.Open(full)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}

	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}

		s, err := tag.StringVal()
		if err != nil {
			continue
		}

		t, err := time.Parse(exifLayout, strings.TrimSpace(s))
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

func ffprobeTime(full string) (time.Time, bool) {
	bin, err := exec.LookPath("ffprobe")
	if err != nil {
		return time.Time{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), ffprobeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format_tags=creation_time:stream_tags=creation_time",
		"-of", "default=nw=1:nk=1",
		full,
	).Output()
	if err != nil {
		return time.Time{}, false
	}

	for _, line := range strings.Split(string(out), "\n") {
		if t, ok := parseLooseTime(line); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

func parseLooseTime(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}

	for _, layout := range []string{
		"2006-01-02 15:04:05 -0700",
		"2006-01-02T15:04:05",
		time.DateTime,
		"2006/01/02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// FilenameTime extracts a capture date from names such as
// PXL_20250128_101500.jpg, IMG-20250128.mp4 or 2025-01-28 party.png.
func FilenameTime(name string) (time.Time, bool) {
	if m := nameDateTime.FindStringSubmatch(name); m != nil {
		n := atoiAll(m[1:])
		t := time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, time.UTC)
		if validDate(t, n) {
			return t, true
		}
	}

	if m := nameDate.FindStringSubmatch(name); m != nil {
		n := atoiAll(m[1:])
		t := time.Date(n[0], time.Month(n[1]), n[2], 0, 0, 0, 0, time.UTC)
		if validDate(t, n) {
			return t, true
		}
	}

	return time.Time{}, false
}

func atoiAll(parts []string) []int {
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}

	return out
}

// time.Date normalizes out-of-range fields, so compare them back.
func validDate(t time.Time, n []int) bool {
	if t.Year() != n[0] || int(t.Month()) != n[1] || t.Day() != n[2] {
		return false
	}
	if len(n) == 6 && (t.Hour() != n[3] || t.Minute() != n[4] || t.Second() != n[5]) {
		return false
	}

	return true
}
