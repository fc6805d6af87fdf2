package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the classification model service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type classifyRequest struct {
	Image string `json:"image"`
}

type classifyResponse struct {
	IssueType string `json:"issue_type"`
}

// NewClient creates a classifier client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Classify sends the image to the model service and returns its label, or
// "" when the model has no confident answer.
func (c *Client) Classify(ctx context.Context, image []byte) (string, error) {
	request := classifyRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/classify",
		bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode classifier response: %w", err)
	}

	return result.IssueType, nil
}
