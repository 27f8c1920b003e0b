// Package transport sends cache queries to GraphQL servers over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"

	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/reqid"
)

// Transport posts printed queries to an endpoint picked from its provider
// and returns the data of the response.
type Transport struct {
	opts   *Options
	client *http.Client
	closed atomic.Bool
}

var _ pending.Network = (*Transport)(nil)

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	client := o.Client
	if client == nil {
		n := o.MaxConnsPerEndpoint
		if n <= 0 {
			n = 2
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxConnsPerHost = n
		tr.MaxIdleConnsPerHost = n
		client = &http.Client{Transport: tr}
	}
	return &Transport{opts: o, client: client}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SendQuery implements pending.Network. A response with errors fails the
// query even when it carries partial data.
func (t *Transport) SendQuery(ctx context.Context, q *query.Root) (map[string]any, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("transport: provider not configured")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	endpoint := endpoints[rand.Intn(len(endpoints))]

	body, err := json.Marshal(graphQLRequest{Query: language.Print(q)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range t.opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		req.Header.Set("X-Request-Id", rid)
	}

	ctxlog.FromContext(ctx).Debug("sending query", "endpoint", endpoint, "query", q.String())
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Endpoint: endpoint, Status: resp.StatusCode}
	}
	var out graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transport: %s: decode response: %w", endpoint, err)
	}
	if len(out.Errors) > 0 {
		rerr := &ResponseError{Endpoint: endpoint}
		for _, e := range out.Errors {
			rerr.Messages = append(rerr.Messages, e.Message)
		}
		return nil, rerr
	}
	return out.Data, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}
