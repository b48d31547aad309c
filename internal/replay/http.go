package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Result classifies one posted batch.
type Result int

// Batch results.
const (
	ResultAccepted Result = iota
	ResultThrottled
	ResultFailed
)

// Client talks to the service HTTP API.
type Client struct {
	client  *http.Client
	baseURL string
	runID   string
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL, runID string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		runID:   runID,
	}
}

type pointEntry struct {
	Name       string    `json:"name"`
	ReceiverID string    `json:"receiver_id"`
	XYZ        []float64 `json:"xyz"`
	R          float64   `json:"r"`
}

type configEntry struct {
	Path  string       `json:"path"`
	Value []pointEntry `json:"value"`
}

// Anchors reads the avatar points of group from GET /config/groups/{group}/avatar_points.
func (c *Client) Anchors(ctx context.Context, group string) ([]Anchor, error) {
	u := c.baseURL + "/config/groups/" + url.PathEscape(group) + "/avatar_points"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(RunHeader, c.runID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch anchors: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchors: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %d %s", ErrUnexpected, u, resp.StatusCode, bytes.TrimSpace(body))
	}

	var entry configEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("%w: decode anchors: %w", ErrUnexpected, err)
	}
	if len(entry.Value) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAnchors, group)
	}

	anchors := make([]Anchor, 0, len(entry.Value))
	for i, p := range entry.Value {
		if len(p.XYZ) != 3 {
			return nil, fmt.Errorf("%w: point %d of %s has %d coordinates", ErrUnexpected, i, group, len(p.XYZ))
		}
		anchors = append(anchors, Anchor{
			Name:       p.Name,
			ReceiverID: p.ReceiverID,
			Position:   r3.Vec{X: p.XYZ[0], Y: p.XYZ[1], Z: p.XYZ[2]},
			Radius:     p.R,
		})
	}
	return anchors, nil
}

// Post submits one batch to POST /contacts.
func (c *Client) Post(ctx context.Context, batch []Contact) Result {
	data, err := json.Marshal(batch)
	if err != nil {
		return ResultFailed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contacts", bytes.NewReader(data))
	if err != nil {
		return ResultFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RunHeader, c.runID)

	resp, err := c.client.Do(req)
	if err != nil {
		return ResultFailed
	}
	if _, err := readResponseBody(resp); err != nil {
		return ResultFailed
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return ResultAccepted
	case http.StatusTooManyRequests:
		return ResultThrottled
	default:
		return ResultFailed
	}
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
