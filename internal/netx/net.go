// Package netx fetches objects through presigned URLs.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Downloader GETs presigned URLs, optionally pacing requests.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewDownloader returns a Downloader issuing at most perSecond requests per
// second. perSecond <= 0 disables pacing.
func NewDownloader(client *http.Client, perSecond float64) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{client: client}
	if perSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return d
}

// Download copies the body behind url into dst and returns the bytes copied.
func (d *Downloader) Download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("download failed: %s; body: %s", resp.Status, string(b))
	}
	return io.Copy(dst, resp.Body)
}
