package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"civic311/config"
)

// The upstream is a CitySourced-style 311 portal. Pulling records is a
// two-step handshake: visit the public page to obtain a CSRF token cookie,
// then post a signed form to the ajax endpoint with a device unique id that
// must match its cookie.
const (
	csrfCookieName     = "CsCsrfToken_USA"
	deviceIDCookieName = "CsHtml5DeviceUniqueIdv2_USA"
	localeCookieName   = "csLocaleType"

	// The portal rejects non-browser clients.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"
)

// Session carries the handshake state needed to sign a feed request.
type Session struct {
	Token    string
	UniqueID string
}

// FeedRecord is one raw service request as returned by the upstream API.
type FeedRecord struct {
	ID               json.Number `json:"Id"`
	RequestType      string      `json:"RequestType"`
	DateCreated      string      `json:"DateCreated"`
	FormattedAddress string      `json:"FormattedAddress"`
	Description      *string     `json:"Description"`
	Latitude         *float64    `json:"Latitude"`
	Longitude        *float64    `json:"Longitude"`
	StatusType       string      `json:"StatusType"`
	OriginalImageURL *string     `json:"OriginalImageUrl"`
}

// Feed abstracts the upstream 311 API so the sync job can be tested with a
// double.
type Feed interface {
	EstablishSession(ctx context.Context) (*Session, error)
	FetchRecords(ctx context.Context, session *Session) ([]FeedRecord, error)
}

// Client implements Feed against a CitySourced portal.
type Client struct {
	baseURL    string
	apiURL     string
	centerLat  float64
	centerLng  float64
	radiusM    int
	pageSize   int
	httpClient *http.Client
}

// NewClient creates a feed client with its own cookie jar; the handshake
// is stateful and must not share cookies with other outbound traffic.
func NewClient(cfg *config.Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL:   cfg.FeedBaseURL,
		apiURL:    cfg.FeedAPIURL,
		centerLat: cfg.FeedCenterLat,
		centerLng: cfg.FeedCenterLng,
		radiusM:   cfg.FeedRadiusM,
		pageSize:  cfg.FeedPageSize,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 60 * time.Second,
		},
	}, nil
}

// EstablishSession visits the portal page to obtain a fresh CSRF token and
// plants the device-id and locale cookies the API checks against.
func (c *Client) EstablishSession(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feed session: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed session init returned status %d", resp.StatusCode)
	}

	pageURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad feed base URL: %w", err)
	}

	var token string
	for _, cookie := range c.httpClient.Jar.Cookies(pageURL) {
		if cookie.Name == csrfCookieName {
			token = cookie.Value
			break
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no CSRF token cookie in feed session response")
	}

	// The unique id must be identical in the cookie and the signed form
	// body.
	uniqueID := strings.ReplaceAll(uuid.NewString(), "-", "")
	c.httpClient.Jar.SetCookies(pageURL, []*http.Cookie{
		{Name: deviceIDCookieName, Value: uniqueID},
		{Name: localeCookieName, Value: "EN"},
	})

	log.Infof("Feed session established, token %s...", token[:min(10, len(token))])
	return &Session{Token: token, UniqueID: uniqueID}, nil
}

type feedLocation struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

type feedQuery struct {
	DateFrom string       `json:"DateFrom"`
	DateTo   string       `json:"DateTo"`
	Location feedLocation `json:"Location"`
	Radius   int          `json:"Radius"`
	Page     int          `json:"Page"`
	PageSize int          `json:"PageSize"`
}

type feedEnvelope struct {
	D       json.RawMessage `json:"d"`
	Results []FeedRecord    `json:"Results"`
}

type feedResults struct {
	Results []FeedRecord `json:"Results"`
}

// FetchRecords pulls one window of service requests: from January 1st of
// the previous year through now, around the configured center point.
func (c *Client) FetchRecords(ctx context.Context, session *Session) ([]FeedRecord, error) {
	now := time.Now()
	from := time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, time.Local)

	query := feedQuery{
		DateFrom: fmt.Sprintf("/Date(%d)/", from.UnixMilli()),
		DateTo:   fmt.Sprintf("/Date(%d)/", now.UnixMilli()),
		Location: feedLocation{X: c.centerLng, Y: c.centerLat},
		Radius:   c.radiusM,
		Page:     1,
		PageSize: c.pageSize,
	}
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed query: %w", err)
	}

	form := url.Values{}
	form.Set("uniqueid", session.UniqueID)
	form.Set("verb", "Get")
	form.Set("endpoint", "servicerequests")
	form.Set("json", string(queryJSON))
	form.Set("token", session.Token)

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", originOf(c.baseURL))
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed response: %w", err)
	}
	return parseFeedResponse(body)
}

// parseFeedResponse handles both response framings the portal emits: a bare
// {Results: [...]} object, or a {d: "<json string>"} envelope whose d field
// is a doubly-encoded JSON document.
func parseFeedResponse(body []byte) ([]FeedRecord, error) {
	var envelope feedEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse feed response: %w", err)
	}
	if envelope.Results != nil {
		return envelope.Results, nil
	}
	if len(envelope.D) == 0 {
		return nil, fmt.Errorf("feed response has no Results")
	}

	inner := envelope.D
	var innerStr string
	if err := json.Unmarshal(envelope.D, &innerStr); err == nil {
		inner = []byte(innerStr)
	}
	var results feedResults
	if err := json.Unmarshal(inner, &results); err != nil {
		return nil, fmt.Errorf("failed to parse inner feed document: %w", err)
	}
	if results.Results == nil {
		return nil, fmt.Errorf("feed response has no Results")
	}
	return results.Results, nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
