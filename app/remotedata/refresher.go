package remotedata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

const lastModifiedKey = "com.urbanairship.remotedata.LAST_MODIFIED"

// Fetcher performs remote-data requests.
type Fetcher interface {
	RequestURL(locale language.Tag) (string, error)
	FetchRemoteData(ctx context.Context, lastModified string, locale language.Tag) (*Response, error)
}

// LocaleProvider supplies the device locale used for requests.
type LocaleProvider interface {
	Locale() language.Tag
}

// lastModifiedState ties a Last-Modified value to the URL it was issued for;
// a different URL (locale, SDK version) must not send it.
type lastModifiedState struct {
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
}

// Refresher fetches remote data and dispatches it into a Feed.
// Concurrent Refresh calls share one request.
type Refresher struct {
	fetcher Fetcher
	feed    *Feed
	store   Store
	locale  LocaleProvider
	group   singleflight.Group
	logger  *slog.Logger
}

func NewRefresher(fetcher Fetcher, feed *Feed, store Store, locale LocaleProvider) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		feed:    feed,
		store:   store,
		locale:  locale,
		logger:  slog.Default(),
	}
}

// Refresh fetches and dispatches remote data. It returns the number of
// payloads dispatched (zero when the service answered 304).
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	v, err, shared := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	if shared {
		r.logger.Debug("Joined in-flight remote-data refresh")
	}
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Refresher) refresh(ctx context.Context) (int, error) {
	locale := r.locale.Locale()

	requestURL, err := r.fetcher.RequestURL(locale)
	if err != nil {
		return 0, err
	}

	var state lastModifiedState
	if _, err := r.store.GetJSON(lastModifiedKey, &state); err != nil {
		return 0, fmt.Errorf("failed to load last modified: %w", err)
	}
	lastModified := ""
	if state.URL == requestURL {
		lastModified = state.LastModified
	}

	resp, err := r.fetcher.FetchRemoteData(ctx, lastModified, locale)
	if err != nil {
		return 0, err
	}

	if resp.Status == http.StatusNotModified {
		r.logger.Debug("Remote data not modified", "url", requestURL)
		return 0, nil
	}

	if err := r.feed.Dispatch(resp.Payloads); err != nil {
		return 0, err
	}

	state = lastModifiedState{URL: requestURL, LastModified: resp.LastModified}
	if err := r.store.PutJSON(lastModifiedKey, state); err != nil {
		return 0, fmt.Errorf("failed to store last modified: %w", err)
	}

	return len(resp.Payloads), nil
}
