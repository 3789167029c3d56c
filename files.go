/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/ageguess/internal/media"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// serveMedia streams a catalog file. URLs carry a per-round version, so
// responses can be cached indefinitely.
func serveMedia(cfg *Config, catalog *media.Catalog, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		full, err := catalog.Resolve(p.ByName("filepath"))
		if err != nil {
			http.NotFound(w, r)

			return
		}

		f, err := os.Open(full)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			http.NotFound(w, r)

			return
		case err != nil:
			errs <- err

			http.Error(w, "media unavailable", http.StatusInternalServerError)

			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		securityHeaders(cfg, w)

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)

		logf(cfg, "SERVE: Media %s (%s) to %s in %s",
			p.ByName("filepath"),
			humanReadableSize(info.Size()),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
