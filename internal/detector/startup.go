package detector

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady waits for the sidecar to answer its health check, polling every
// interval for up to attempts tries. Progress is written to w.
func EnsureReady(ctx context.Context, c *Client, attempts int, interval time.Duration, w io.Writer) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if c.IsRunning(ctx) {
			fmt.Fprintf(w, "detector %s: ready\n", c.BaseURL())
			return nil
		}
		if i == attempts {
			break
		}
		fmt.Fprintf(w, "detector %s: waiting (%d/%d)...\n", c.BaseURL(), i, attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("face detector is not reachable at %s; start the detection sidecar first", c.BaseURL())
}
