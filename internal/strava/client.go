// Package strava is a small client for the parts of the Strava v3 API the
// sync pipeline reads, plus the OAuth token handling around it.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoranSlingerland/running-backend/internal/domain"
)

// DefaultBaseURL is the Strava v3 API root.
const DefaultBaseURL = "https://www.strava.com/api/v3"

const pageSize = 200

var requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "running_backend",
	Subsystem: "strava",
	Name:      "requests_total",
	Help:      "Strava API requests by endpoint and status code.",
}, []string{"endpoint", "code"})

func init() {
	prometheus.MustRegister(requestCounter)
}

// Activity is the wire form of an activity. Strava sends a numeric id; every
// other field decodes straight into the stored shape.
type Activity struct {
	ID int64 `json:"id"`
	domain.Activity
}

// API is the read surface used by ingestion and enrichment.
type API interface {
	ListActivities(ctx context.Context, after *time.Time) ([]Activity, error)
	GetActivity(ctx context.Context, id string) (*Activity, error)
	GetStreams(ctx context.Context, id string, channels []string) (*domain.Stream, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Client calls the Strava API with an already authorized http.Client.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient constructs a Client. httpClient must add the bearer token.
func NewClient(httpClient *http.Client, opts ...ClientOption) *Client {
	c := &Client{http: httpClient, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities returns every activity that started after the given time, or
// the whole history when after is nil. Pages are requested until one comes back empty.
func (c *Client) ListActivities(ctx context.Context, after *time.Time) ([]Activity, error) {
	var all []Activity
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("per_page", strconv.Itoa(pageSize))
		params.Set("page", strconv.Itoa(page))
		if after != nil {
			params.Set("after", strconv.FormatInt(after.Unix(), 10))
		}

		var batch []Activity
		body, err := c.get(ctx, "list_activities", "/athlete/activities?"+params.Encode())
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode activities page %d: %w", page, err)
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
	}
}

// GetActivity fetches the detailed representation of one activity. An empty
// body means the API throttled the call.
func (c *Client) GetActivity(ctx context.Context, id string) (*Activity, error) {
	body, err := c.get(ctx, "get_activity", "/activities/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrRateLimited
	}

	var activity Activity
	if err := json.Unmarshal(trimmed, &activity); err != nil {
		return nil, fmt.Errorf("decode activity %s: %w", id, err)
	}
	return &activity, nil
}

// GetStreams fetches the requested channels keyed by type.
func (c *Client) GetStreams(ctx context.Context, id string, channels []string) (*domain.Stream, error) {
	params := url.Values{}
	params.Set("keys", strings.Join(channels, ","))
	params.Set("key_by_type", "true")

	body, err := c.get(ctx, "get_streams", "/activities/"+url.PathEscape(id)+"/streams?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var stream domain.Stream
	if err := json.Unmarshal(body, &stream); err != nil {
		return nil, fmt.Errorf("decode streams %s: %w", id, err)
	}
	return &stream, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	requestCounter.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read strava %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// Normalize converts a wire activity into the stored document: the id becomes
// a string, the owner is stamped and every derived field is cleared. Fields
// Strava sends that the pipeline does not keep are dropped by decoding.
func Normalize(a Activity, userID string, fullData bool) domain.Activity {
	out := a.Activity
	out.Laps = append([]domain.Lap(nil), a.Laps...)
	out.BestEfforts = append([]domain.Lap(nil), a.BestEfforts...)
	out.ID = strconv.FormatInt(a.ID, 10)
	out.UserID = userID
	out.ResetDerived()
	out.FullData = fullData
	out.UserInput = domain.DefaultUserInput()
	return out
}
