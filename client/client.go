// Package client talks to the storefront REST API from Go.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"toybox-api/models"
)

const RequestTimeout = 15 * time.Second

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// APIError is a non-2xx answer. It matches the sentinel errors above by status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront: %s (http %d)", e.Message, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New returns a client for the API rooted at baseURL, e.g. "https://shop.example.com".
// token is sent as a bearer token on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: RequestTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	decodeErr := json.Unmarshal(respBody, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := envelope.Message
		if decodeErr != nil || message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		log.Printf("Storefront %s %s answered %d: %s", method, path, resp.StatusCode, message)
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return fmt.Errorf("error decoding response: %w", decodeErr)
	}

	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("error decoding response data: %w", err)
	}
	return nil
}

func (c *Client) Toys(ctx context.Context, query string) (*models.ToyPage, error) {
	path := "/api/toys"
	if query != "" {
		path += "?" + query
	}
	var page models.ToyPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) Plans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if err := c.do(ctx, http.MethodGet, "/api/plans", nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (c *Client) Orders(ctx context.Context) ([]models.Order, error) {
	var result struct {
		Orders []models.Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &result); err != nil {
		return nil, err
	}
	return result.Orders, nil
}
