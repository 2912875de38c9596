package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/pipeline"
)

// apiClient talks to a running gateway over its HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error, Body: data}
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = string(data)
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func sessionPath(key, suffix string) string {
	return "/api/sessions/" + url.PathEscape(key) + suffix
}

func (c *apiClient) Send(ctx context.Context, key string, msg domain.Message) (*pipeline.TurnResult, error) {
	var res pipeline.TurnResult
	if err := c.do(ctx, http.MethodPost, sessionPath(key, "/turns"), msg, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) History(ctx context.Context, key string, limit int) ([]domain.TurnRecord, error) {
	var body struct {
		Turns []domain.TurnRecord `json:"turns"`
	}
	path := sessionPath(key, "/turns")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Turns, nil
}

func (c *apiClient) SetCharacter(ctx context.Context, key, characterID string) error {
	return c.do(ctx, http.MethodPut, sessionPath(key, "/character"),
		map[string]string{"character_id": characterID}, nil)
}

func (c *apiClient) DumpText(ctx context.Context) (string, error) {
	var text string
	if err := c.do(ctx, http.MethodGet, "/api/debug/dump?format=text", nil, &text); err != nil {
		return "", err
	}
	return text, nil
}

// Health returns the health report. A degraded gateway answers 503 with a
// report; that report is returned together with the error.
func (c *apiClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &body)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		if json.Unmarshal(apiErr.Body, &body) != nil {
			body = nil
		}
	}
	return body, err
}
