// Package razorpay is a small client for the hosted payment gateway's orders and payments API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultBaseURL = "https://api.razorpay.com/v1"
	RequestTimeout = 30 * time.Second
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Field       string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("razorpay: %s (%s, field %s, http %d)", e.Description, e.Code, e.Field, e.StatusCode)
	}
	return fmt.Sprintf("razorpay: %s (%s, http %d)", e.Description, e.Code, e.StatusCode)
}

type Client struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

func NewClient(keyID, keySecret string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   DefaultBaseURL,
		client: &http.Client{
			Timeout:   RequestTimeout,
			Transport: transport,
		},
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) KeyID() string {
	return c.keyID
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FetchOrderPayments lists the payment attempts made against an order.
func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var result struct {
		Items []Payment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	log.Printf("Gateway %s %s answered %d in %v", method, path, resp.StatusCode, time.Since(startTime))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Description: http.StatusText(resp.StatusCode)}
		var envelope errorEnvelope
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Description = envelope.Error.Description
			apiErr.Field = envelope.Error.Field
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
