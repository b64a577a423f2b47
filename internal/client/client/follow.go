package client

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/api"
)

// Follow polls the progress of taskID every interval and hands each sample
// to render until the task is terminal. ErrUnavailable is retried on the
// next tick.
func Follow(ctx context.Context, c Client, taskID string, interval time.Duration, render func(*api.ProgressResponse)) (*api.ProgressResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *api.ProgressResponse
	for {
		p, err := c.Progress(ctx, taskID)
		switch {
		case err == nil:
			last = p
			if render != nil {
				render(p)
			}
			if IsTerminal(p.Status) {
				return p, nil
			}
		case errors.Is(err, ErrUnavailable):
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
