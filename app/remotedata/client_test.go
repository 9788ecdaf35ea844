package remotedata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const testResponse = `{
  "ok": true,
  "payloads": [
    {"type": "in_app_messages", "timestamp": "2018-01-01T10:00:00", "data": {"in_app_messages": []}},
    {"type": "broken", "timestamp": "yesterday", "data": {}},
    {"type": "app_config", "timestamp": "2018-01-02T10:00:00.500Z", "data": {"foo": "bar"}}
  ]
}`

func newTestClient(url string) *Client {
	return NewClient(ClientOptions{
		BaseURL:    url,
		AppKey:     "appKey",
		Platform:   "android",
		SDKVersion: "1.2.3",
		UserAgent:  "inapp-sync/test",
	})
}

func TestFetchRemoteDataSuccess(t *testing.T) {
	var gotPath, gotQuery, gotIfModifiedSince, gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotIfModifiedSince = r.Header.Get("If-Modified-Since")
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2018 10:00:00 GMT")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testResponse))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.FetchRemoteData(context.Background(), "Sun, 31 Dec 2017 10:00:00 GMT", language.MustParse("en-US"))
	require.NoError(t, err)

	assert.Equal(t, "/api/remote-data/app/appKey/android", gotPath)
	assert.Equal(t, "country=US&language=en&sdk_version=1.2.3", gotQuery)
	assert.Equal(t, "Sun, 31 Dec 2017 10:00:00 GMT", gotIfModifiedSince)
	assert.Equal(t, "inapp-sync/test", gotUserAgent)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Mon, 01 Jan 2018 10:00:00 GMT", resp.LastModified)
	require.Len(t, resp.Payloads, 2, "payload with invalid timestamp should be skipped")

	assert.Equal(t, "in_app_messages", resp.Payloads[0].Type)
	assert.Equal(t, int64(1514800800000), resp.Payloads[0].Timestamp)
	assert.Equal(t, "app_config", resp.Payloads[1].Type)
	assert.Equal(t, int64(1514887200500), resp.Payloads[1].Timestamp)

	wantURL := server.URL + "/api/remote-data/app/appKey/android?country=US&language=en&sdk_version=1.2.3"
	assert.Equal(t, Metadata{"url": wantURL}, resp.Payloads[0].Metadata)
}

func TestFetchRemoteDataNoLastModified(t *testing.T) {
	var hadHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadHeader = r.Header["If-Modified-Since"]
		w.Write([]byte(`{"ok": true, "payloads": []}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).FetchRemoteData(context.Background(), "", language.Und)
	require.NoError(t, err)
	assert.False(t, hadHeader)
	assert.Empty(t, resp.Payloads)
}

func TestFetchRemoteDataNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).FetchRemoteData(context.Background(), "last", language.Und)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.Status)
	assert.Equal(t, "last", resp.LastModified)
	assert.Empty(t, resp.Payloads)
}

func TestFetchRemoteDataServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchRemoteData(context.Background(), "", language.Und)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestFetchRemoteDataInvalidBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchRemoteData(context.Background(), "", language.Und)
	assert.Error(t, err)
}

func TestRequestURLLanguageOnly(t *testing.T) {
	client := newTestClient("https://remote-data.example.com")

	got, err := client.RequestURL(language.MustParse("de"))
	require.NoError(t, err)
	assert.Equal(t, "https://remote-data.example.com/api/remote-data/app/appKey/android?language=de&sdk_version=1.2.3", got)
}
