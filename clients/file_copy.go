package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	xerrors "github.com/livepeer/transcode-pipeline/errors"
	"github.com/livepeer/transcode-pipeline/log"
	"github.com/livepeer/transcode-pipeline/metrics"
)

// MaxFetchDuration bounds a single remote fetch of a regressor artifact or
// other small file referenced by URL rather than by object-store key.
const MaxFetchDuration = 2 * time.Minute

var retryableHTTPClient = newRetryableHTTPClient()

func newRetryableHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 5                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 5 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.CheckRetry = metrics.HttpRetryHook
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		// Give up on requests that take more than this long.
		Timeout: MaxFetchDuration,
	}
	return client
}

// FetchURL retrieves a small file (a predictor model artifact, typically)
// referenced by plain HTTP(S) URL rather than an object-store key.
func FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("error creating http request: %w", err))
	}
	resp, err := metrics.MonitorRequest(metrics.Metrics.SourceFetchClient, retryableHTTPClient.StandardClient(), req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("bad status code fetching %q: %d %s", url, resp.StatusCode, resp.Status)
		if resp.StatusCode < 500 {
			err = xerrors.Unretriable(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body from %q: %w", url, err)
	}
	return body, nil
}
