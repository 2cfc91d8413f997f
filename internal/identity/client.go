// Package identity talks to the reviewer directory service. The case
// pipeline uses it to verify that a reviewer exists, is active, and
// really holds the tier they claim before handing out cases.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Reviewer struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Tier   int    `json:"tier"` // 0 junior .. 3 investment committee
	Active bool   `json:"active"`
}

type Client interface {
	GetReviewer(ctx context.Context, reviewerID string) (*Reviewer, error)
	ListReviewers(ctx context.Context) ([]Reviewer, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("identity %s %s: %d %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *HTTPClient) GetReviewer(ctx context.Context, reviewerID string) (*Reviewer, error) {
	data, err := c.doReq(ctx, "GET", "/api/reviewers/"+reviewerID)
	if err != nil {
		return nil, err
	}
	var r Reviewer
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) ListReviewers(ctx context.Context) ([]Reviewer, error) {
	data, err := c.doReq(ctx, "GET", "/api/reviewers")
	if err != nil {
		return nil, err
	}
	var reviewers []Reviewer
	if err := json.Unmarshal(data, &reviewers); err != nil {
		return nil, err
	}
	return reviewers, nil
}
