package montage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	fetchTimeout  = 30 * time.Second
	fetchAttempts = 3
	fetchBackoff  = 500 * time.Millisecond

	// coordinate lists are small; anything larger is not one
	maxCoordinateBytes = 8 << 20
)

// FetchOption adjusts how FetchPointSet downloads a coordinate list.
type FetchOption func(*fetcher)

type fetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// WithHTTPClient downloads through c instead of a client with a 30 s timeout
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *fetcher) { f.client = c }
}

// WithAttempts sets how many times a failing download is tried (default 3)
func WithAttempts(n int) FetchOption {
	return func(f *fetcher) { f.attempts = n }
}

// WithBackoff sets the first pause between attempts (default 500 ms)
func WithBackoff(d time.Duration) FetchOption {
	return func(f *fetcher) { f.backoff = d }
}

// FetchPointSet downloads the coordinate list at url and parses it.
// Transport errors and non-200 replies are retried with exponential
// backoff; a body that does not parse fails at once.
func FetchPointSet(ctx context.Context, url string, opts ...FetchOption) (PointSet, error) {
	if url == "" {
		return PointSet{}, fmt.Errorf("%w: empty coordinates URL", ErrInvalidInput)
	}
	f := fetcher{
		client:   &http.Client{Timeout: fetchTimeout},
		attempts: fetchAttempts,
		backoff:  fetchBackoff,
	}
	for _, opt := range opts {
		opt(&f)
	}
	if f.attempts < 1 {
		f.attempts = 1
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = f.backoff
	schedule.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(f.attempts-1)), ctx)

	tries := 0
	ps, err := backoff.RetryWithData(func() (PointSet, error) {
		tries++
		return f.get(ctx, url)
	}, policy)
	if err != nil {
		return PointSet{}, fmt.Errorf("fetch %s (%d of %d attempts): %w", url, tries, f.attempts, err)
	}
	return ps, nil
}

// get runs one GET. Parse failures are marked permanent.
func (f fetcher) get(ctx context.Context, url string) (PointSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PointSet{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return PointSet{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return PointSet{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	ps, err := ParsePointSet(io.LimitReader(resp.Body, maxCoordinateBytes))
	if err != nil {
		return PointSet{}, backoff.Permanent(err)
	}
	return ps, nil
}
