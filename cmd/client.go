package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/sqlops/sqlconsole/core"
)

// apiClient talks to a running sqlconsole service
type apiClient struct {
	rc *resty.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &apiClient{rc: rc}
}

type apiError struct {
	Error string `json:"error"`
}

// orderedRow is a result row that remembers the column order of the JSON
// object it was decoded from.
type orderedRow struct {
	keys []string
	vals map[string]any
}

func (r *orderedRow) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	t, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object, got %v", t)
	}

	r.keys = nil
	r.vals = map[string]any{}
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := t.(string)
		if !ok {
			return fmt.Errorf("expected an object key, got %v", t)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		r.keys = append(r.keys, key)
		r.vals[key] = v
	}
	return nil
}

type executeResult struct {
	Results  []orderedRow   `json:"results"`
	Messages []core.Message `json:"messages"`
	Message  string         `json:"message"`
	Plan     string         `json:"plan"`
	Error    string         `json:"error"`
}

type objectsResult struct {
	Objects []core.DBObject `json:"objects"`
}

type environmentResult struct {
	Environment  string `json:"environment"`
	IsProduction bool   `json:"isProduction"`
}

// post sends body to route and decodes a 2xx response into result. Error
// responses are returned as errors carrying the service message.
func (c *apiClient) post(ctx context.Context, route string, body, result any) error {
	var apiErr apiError

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(route)
	if err != nil {
		return errors.Wrapf(err, "request %s", route)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return errors.Errorf("request %s: %s", route, resp.Status())
	}
	return nil
}

// Execute runs a statement. Statement failures come back in the result
// Error field with whatever messages were captured.
func (c *apiClient) Execute(ctx context.Context, server, database, query, action string) (*executeResult, error) {
	var res executeResult
	err := c.post(ctx, "/api/execute", map[string]string{
		"serverName": server,
		"database":   database,
		"query":      query,
		"action":     action,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) Objects(ctx context.Context, server, objectType, database, table string) ([]core.DBObject, error) {
	var res objectsResult
	err := c.post(ctx, "/api/database-objects", map[string]any{
		"serverName": server,
		"objectType": objectType,
		"context": map[string]string{
			"database": database,
			"table":    table,
		},
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Objects, nil
}

func (c *apiClient) Environment(ctx context.Context, server string) (*environmentResult, error) {
	var res environmentResult
	err := c.post(ctx, "/api/validate-environment", map[string]string{"serverName": server}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
