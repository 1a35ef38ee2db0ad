package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
)

// client calls the crowdcount HTTP API
type client struct {
	doer  goahttp.Doer
	base  *url.URL
	token string
}

func newClient(rawURL, token string, timeout int, debug bool) (*client, error) {
	u, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: scheme must be http or https", rawURL)
	}

	var doer goahttp.Doer
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}
	return &client{doer: doer, base: u, token: token}, nil
}

// apiError is a non-2xx response
type apiError struct {
	Status  int
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("%d %s", e.Status, msg)
}

// do sends body (when not nil) as JSON and decodes the response into out
// (when not nil)
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if err := goahttp.RequestEncoder(req).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := c.doer.Do(req)
	if d, ok := c.doer.(goahttp.DebugDoer); ok {
		d.Fprint(os.Stderr)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = goahttp.ResponseDecoder(resp).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := goahttp.ResponseDecoder(resp).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
