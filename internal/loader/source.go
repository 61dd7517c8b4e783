package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/activityboard/internal/domain"
)

// Fetcher retrieves a module's binary image.
type Fetcher interface {
	Location() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Instantiator compiles, instantiates and starts a module image.
type Instantiator interface {
	Instantiate(ctx context.Context, image []byte) (Module, error)
}

// BinarySource fetches an image and hands it to an Instantiator.
type BinarySource struct {
	fetcher      Fetcher
	instantiator Instantiator
}

// NewBinarySource constructs a BinarySource.
func NewBinarySource(fetcher Fetcher, instantiator Instantiator) *BinarySource {
	return &BinarySource{fetcher: fetcher, instantiator: instantiator}
}

// Name implements Source.
func (s *BinarySource) Name() string {
	return s.fetcher.Location()
}

// Start implements Source.
func (s *BinarySource) Start(ctx context.Context) (Module, error) {
	image, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, annotate(err, "fetch "+s.fetcher.Location())
	}
	module, err := s.instantiator.Instantiate(ctx, image)
	if err != nil {
		return nil, annotate(err, "instantiate "+s.fetcher.Location())
	}
	return module, nil
}

// annotate prefixes err with msg, keeping a Permanent marker outermost so the
// retry policy still sees it.
func annotate(err error, msg string) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return Permanent(fmt.Errorf("%s: %w", msg, permanent.Err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// FileFetcher reads the image from the local file system.
type FileFetcher struct {
	Path string
}

// Location implements Fetcher.
func (f FileFetcher) Location() string {
	return "file://" + f.Path
}

// Fetch implements Fetcher. A missing file is permanent.
func (f FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	image, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Permanent(err)
		}
		return nil, err
	}
	return image, nil
}

// HTTPFetcher downloads the image.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{url: url, client: &http.Client{Timeout: timeout}}
}

// Location implements Fetcher.
func (f *HTTPFetcher) Location() string {
	return f.url
}

// Fetch implements Fetcher. Client errors other than 408 and 429 are permanent.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Accept", "application/wasm")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		statusErr := &FetchStatusError{Status: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(statusErr)
		}
		return nil, statusErr
	}
	return io.ReadAll(resp.Body)
}

// FetchStatusError represents a non-successful fetch response.
type FetchStatusError struct {
	Status int
}

func (e *FetchStatusError) Error() string {
	return fmt.Sprintf("fetch failed with status %d %s", e.Status, http.StatusText(e.Status))
}

// RecentRecorder lists the table projection of recent activities.
type RecentRecorder interface {
	RecentRecords(ctx context.Context, tenantID, userID string, window time.Duration) ([]domain.ActivityRecord, error)
}

// StoreSource serves records straight from the activity store, for callers
// that render server-side without a compiled module.
type StoreSource struct {
	store    RecentRecorder
	tenantID string
	userID   string
	window   time.Duration
}

// NewStoreSource constructs a StoreSource scoped to one athlete and time window.
func NewStoreSource(store RecentRecorder, tenantID, userID string, window time.Duration) *StoreSource {
	return &StoreSource{store: store, tenantID: tenantID, userID: userID, window: window}
}

// Name implements Source.
func (s *StoreSource) Name() string {
	return "store"
}

// Start implements Source. The store needs no start-up, so the module is ready at once.
func (s *StoreSource) Start(ctx context.Context) (Module, error) {
	return storeModule{source: s}, nil
}

type storeModule struct {
	source *StoreSource
}

func (m storeModule) Activities(ctx context.Context) ([]domain.ActivityRecord, error) {
	return m.source.store.RecentRecords(ctx, m.source.tenantID, m.source.userID, m.source.window)
}

func (storeModule) Close(context.Context) error { return nil }
