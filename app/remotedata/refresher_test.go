package remotedata

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type fakeFetcher struct {
	responses     []*Response
	err           error
	lastModifieds []string
}

func (f *fakeFetcher) RequestURL(locale language.Tag) (string, error) {
	return "https://remote-data.example.com?locale=" + locale.String(), nil
}

func (f *fakeFetcher) FetchRemoteData(ctx context.Context, lastModified string, locale language.Tag) (*Response, error) {
	f.lastModifieds = append(f.lastModifieds, lastModified)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type fixedLocale struct {
	tag language.Tag
}

func (l *fixedLocale) Locale() language.Tag { return l.tag }

func TestRefresherDispatchesAndStoresLastModified(t *testing.T) {
	store := newMemStore()
	feed, err := NewFeed(store)
	require.NoError(t, err)

	fetcher := &fakeFetcher{responses: []*Response{
		{Status: http.StatusOK, LastModified: "lm-1", Payloads: []Payload{{Type: "in_app_messages", Timestamp: 1}}},
		{Status: http.StatusNotModified, LastModified: "lm-1"},
	}}
	locale := &fixedLocale{tag: language.MustParse("en-US")}
	refresher := NewRefresher(fetcher, feed, store, locale)

	n, err := refresher.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, ok := feed.Payload("in_app_messages")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Timestamp)

	n, err = refresher.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, []string{"", "lm-1"}, fetcher.lastModifieds)
}

func TestRefresherIgnoresLastModifiedAfterLocaleChange(t *testing.T) {
	store := newMemStore()
	feed, err := NewFeed(store)
	require.NoError(t, err)

	fetcher := &fakeFetcher{responses: []*Response{
		{Status: http.StatusOK, LastModified: "lm-1"},
		{Status: http.StatusOK, LastModified: "lm-2"},
	}}
	locale := &fixedLocale{tag: language.MustParse("en-US")}
	refresher := NewRefresher(fetcher, feed, store, locale)

	_, err = refresher.Refresh(context.Background())
	require.NoError(t, err)

	locale.tag = language.MustParse("fr-FR")
	_, err = refresher.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", ""}, fetcher.lastModifieds)
}

func TestRefresherFetchError(t *testing.T) {
	store := newMemStore()
	feed, err := NewFeed(store)
	require.NoError(t, err)

	fetcher := &fakeFetcher{err: errors.New("network down")}
	refresher := NewRefresher(fetcher, feed, store, &fixedLocale{tag: language.Und})

	_, err = refresher.Refresh(context.Background())
	assert.Error(t, err)
}
