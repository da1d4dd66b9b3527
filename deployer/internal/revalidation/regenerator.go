package revalidation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RevalidateHeader carries the token that makes the server unit regenerate
// instead of serving from cache.
const RevalidateHeader = "x-prerender-revalidate"

// HTTPRegenerator regenerates a page by issuing HEAD <scheme>://<host><key>
// against the deployment.
type HTTPRegenerator struct {
	Token  string
	Scheme string
	client *http.Client
}

// NewHTTPRegenerator returns a regenerator that does not follow redirects;
// a 3xx is a successful regeneration.
func NewHTTPRegenerator(token string, timeout time.Duration) *HTTPRegenerator {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &HTTPRegenerator{
		Token:  token,
		Scheme: "https",
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// RegenerationError reports a non-success status from the deployment.
type RegenerationError struct {
	Key        string
	StatusCode int
}

func (e *RegenerationError) Error() string {
	return fmt.Sprintf("regenerate %s: status %d", e.Key, e.StatusCode)
}

func (r *HTTPRegenerator) Regenerate(ctx context.Context, msg Message) error {
	url := r.Scheme + "://" + strings.TrimSuffix(msg.Host, "/") + msg.Key
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(RevalidateHeader, r.Token)
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("regenerate %s: %w", msg.Key, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return &RegenerationError{Key: msg.Key, StatusCode: resp.StatusCode}
}
