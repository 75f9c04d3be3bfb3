package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// maxResponseBodyRead limits how much of a response body is read for error
// messages.
const maxResponseBodyRead = 2048

// httpPoster posts JSON payloads through a circuit breaker. A destination
// whose endpoint keeps failing trips its breaker and fails fast for a
// cooldown period instead of burning the pipeline's retry budget on a dead
// endpoint. Retry ownership stays with the dispatcher; the breaker only
// guards the individual call.
type httpPoster struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// newHTTPPoster creates a poster with a named breaker for one destination.
func newHTTPPoster(name string, timeout time.Duration) *httpPoster {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &httpPoster{
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

// postJSON sends the payload and returns the response status code and, for
// non-2xx responses, a snippet of the body for diagnostics.
func (p *httpPoster) postJSON(ctx context.Context, url string, payload []byte) (int, string, error) {
	resp, err := p.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return p.client.Do(req)
	})
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyRead))
		return resp.StatusCode, "", nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	return resp.StatusCode, string(body), fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}
