package remotedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/text/language"
)

// ErrUnexpectedStatus is returned for responses other than 200 and 304.
var ErrUnexpectedStatus = errors.New("unexpected remote-data response status")

// Client fetches remote-data payloads for one application.
type Client struct {
	baseURL    string
	appKey     string
	platform   string
	sdkVersion string
	userAgent  string
	httpClient *http.Client
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL    string
	AppKey     string
	Platform   string
	SDKVersion string
	UserAgent  string
	Timeout    time.Duration
}

func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    opts.BaseURL,
		appKey:     opts.AppKey,
		platform:   opts.Platform,
		sdkVersion: opts.SDKVersion,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestURL builds the remote-data URL for the given locale. language.Und
// omits the language and country parameters.
func (c *Client) RequestURL(locale language.Tag) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote-data URL: %w", err)
	}
	u = u.JoinPath("api", "remote-data", "app", c.appKey, c.platform)

	query := url.Values{}
	query.Set("sdk_version", c.sdkVersion)
	if locale != language.Und {
		base, _ := locale.Base()
		query.Set("language", base.String())
		if region, confidence := locale.Region(); confidence == language.Exact {
			query.Set("country", region.String())
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// FetchRemoteData requests the current payloads. lastModified is sent as
// If-Modified-Since when non-empty; a 304 yields a Response without payloads.
func (c *Client) FetchRemoteData(ctx context.Context, lastModified string, locale language.Tag) (*Response, error) {
	requestURL, err := c.RequestURL(locale)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote data: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &Response{Status: resp.StatusCode, LastModified: lastModified}, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	payloads, err := parsePayloads(data, Metadata{"url": requestURL})
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:       resp.StatusCode,
		LastModified: resp.Header.Get("Last-Modified"),
		Payloads:     payloads,
	}, nil
}

func parsePayloads(data []byte, metadata Metadata) ([]Payload, error) {
	var body responseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to parse remote-data response: %w", err)
	}

	payloads := make([]Payload, 0, len(body.Payloads))
	for _, p := range body.Payloads {
		if p.Type == "" {
			slog.Warn("Remote-data payload without type, skipping")
			continue
		}
		timestamp, err := ParseMillis(p.Timestamp)
		if err != nil {
			slog.Warn("Remote-data payload with invalid timestamp, skipping", "type", p.Type, "error", err)
			continue
		}
		payloads = append(payloads, Payload{
			Type:      p.Type,
			Timestamp: timestamp,
			Data:      p.Data,
			Metadata:  metadata,
		})
	}

	return payloads, nil
}
