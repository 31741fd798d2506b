package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Doer is the subset of *http.Client used by the Gateway.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Response is a completed request. OK is true for 2xx statuses.
type Response struct {
	Status     int
	StatusText string
	OK         bool
	Body       []byte
}

// Gateway issues requests to the backend through Client.
type Gateway struct {
	Client Doer
}

// New returns a Gateway using |client|, or http.DefaultClient if nil.
func New(client Doer) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{Client: client}
}

// FetchJSON GETs |url| and decodes its JSON body into |dst|. Bodies of
// failed responses are not parsed.
func (g *Gateway) FetchJSON(ctx context.Context, url string, dst any) error {
	resp, err := g.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if !resp.OK {
		return &HTTPError{Status: resp.Status, StatusText: resp.StatusText, URL: url}
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", url, err)
	}
	return nil
}

// Send issues |method| to |url| with an optional JSON |body|. It fails only
// with a *NetworkError; callers inspect Response.OK for the status.
func (g *Gateway) Send(ctx context.Context, method, url string, body json.RawMessage) (*Response, error) {
	return g.do(ctx, method, url, body)
}

func (g *Gateway) do(ctx context.Context, method, url string, body json.RawMessage) (*Response, error) {
	var rdr io.Reader
	if len(body) != 0 && string(body) != "null" {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		requestsTotal.WithLabelValues(method, outcomeNetwork).Inc()
		return nil, &NetworkError{URL: url, Err: err}
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client().Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, outcomeNetwork).Inc()
		log.WithFields(log.Fields{"method": method, "url": url, "err": err}).Debug("request failed")
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(method, outcomeNetwork).Inc()
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	var out = &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:       b,
	}
	if out.OK {
		requestsTotal.WithLabelValues(method, outcomeOK).Inc()
	} else {
		requestsTotal.WithLabelValues(method, outcomeStatus).Inc()
	}
	return out, nil
}

func (g *Gateway) client() Doer {
	if g.Client == nil {
		return http.DefaultClient
	}
	return g.Client
}

// statusText strips the numeric code from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	if s := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
