package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope is the backend's response wrapper.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Call executes req and decodes the enveloped response body.
func Call[T any](ctx context.Context, c *Client, req Request) (*Envelope[T], error) {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var env Envelope[T]
	if len(resp.Body) == 0 {
		return &env, nil
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &APIError{
			Status:  resp.Status,
			Code:    CodeInvalidResponse,
			Message: fmt.Sprintf("failed to parse response: %v", err),
			Err:     err,
		}
	}
	return &env, nil
}
