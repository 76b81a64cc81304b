// Package fetch downloads release archives and unpacks them into the app data
// root. Both the Java runtime and the bundled database server are installed
// through it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
)

// DownloadShare is the progress reached when an archive is fully downloaded.
// The rest is left for unpacking.
const DownloadShare = 90

// ProgressFunc receives progress in percent and a short message. A negative
// progress carries only a message.
type ProgressFunc func(progress int, message string)

// Progress describes how a download reports itself.
type Progress struct {
	// Label names the download in progress messages, e.g. "Java runtime".
	Label  string
	Report ProgressFunc
	// Count, if set, receives every chunk size written.
	Count func(n int)
}

// File writes the body at url into a temp file under dir named after pattern.
// The file is only returned if the server answered 2xx, the stream closed
// cleanly, and the byte count matches Content-Length when one was sent. On
// failure nothing is left behind.
func File(ctx context.Context, client *http.Client, url, dir, pattern string, p Progress) (path string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	pw := &progressWriter{total: resp.ContentLength, p: p}
	written, err := io.Copy(f, io.TeeReader(resp.Body, pw))
	if err != nil {
		return "", fmt.Errorf("after %s: %w", humanize.Bytes(uint64(written)), err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return "", fmt.Errorf("truncated download: got %d of %d bytes", written, resp.ContentLength)
	}
	if written == 0 {
		return "", fmt.Errorf("empty download")
	}
	return f.Name(), nil
}

type progressWriter struct {
	total   int64
	written int64
	last    int
	p       Progress
}

func (w *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	w.written += int64(n)
	if w.p.Count != nil {
		w.p.Count(n)
	}
	if w.total <= 0 || w.p.Report == nil {
		return n, nil
	}
	pct := int(w.written * DownloadShare / w.total)
	if pct > DownloadShare {
		pct = DownloadShare
	}
	if pct > w.last {
		w.last = pct
		w.p.Report(pct, fmt.Sprintf("Downloading %s (%s of %s)", w.p.Label,
			humanize.Bytes(uint64(w.written)), humanize.Bytes(uint64(w.total))))
	}
	return n, nil
}

// Personal.AI order the ending
