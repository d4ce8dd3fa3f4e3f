package relay

import (
	"context"
	"net/http"
	"time"
)

// probeTimeout bounds the pre-flight reachability check independently of
// DefaultTimeout, so a stalled relay can't delay the caller's own timeout
// budget.
const probeTimeout = 3 * time.Second

// Reachable performs a lightweight pre-flight probe against the relay's
// health endpoint, adapted from the TCP dialer health-check idiom: dial with
// a short bounded timeout and fail fast rather than block the caller on a
// stalled connection.
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
