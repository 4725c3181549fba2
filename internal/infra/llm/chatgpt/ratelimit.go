package chatgpt

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimitedTransport throttles outbound requests to the upstream LLM
// API so a burst of concurrent chat/embedding calls can't exceed the
// provider's rate limit and trip its own 429 backoff.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func newRateLimitedTransport(next http.RoundTripper, perSecond float64, burst int) http.RoundTripper {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedTransport{limiter: rate.NewLimiter(rate.Limit(perSecond), burst), next: next}
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
