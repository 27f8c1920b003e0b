// Package server exposes a cache over HTTP for inspection: stored records,
// connection windows, query diffs, payload writes and collections.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/gc"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/store"
)

// Handler is an http.Handler serving the inspection API of one cache.
type Handler struct {
	cache  *cache.Cache
	schema *language.Schema
	opt    Options
	mux    *http.ServeMux
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Bus receives HTTP events. Nil publishes on the global bus.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New returns a handler for c. Query text is validated against schema;
// without a schema the diff and write routes answer 501.
func New(c *cache.Cache, schema *language.Schema, opts ...Option) (*Handler, error) {
	if c == nil {
		return nil, errors.New("server: nil cache")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{cache: c, schema: schema, opt: op, mux: http.NewServeMux()}
	h.handle("GET /records/{id}", h.getRecord)
	h.handle("GET /ranges/{id}", h.getRange)
	h.handle("POST /diff", h.postDiff)
	h.handle("POST /write", h.postWrite)
	h.handle("POST /gc", h.postCollect)
	return h, nil
}

// handlerFunc returns the status and body to write.
type handlerFunc func(ctx context.Context, r *http.Request) (int, any)

func (h *Handler) handle(pattern string, fn handlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
			defer cancel()
		}
		ctx, rid := reqid.NewContext(ctx)
		w.Header().Set("X-Request-Id", rid)

		status := http.StatusOK
		start := time.Now()
		publish(h, ctx, events.HTTPStart{Request: r, Route: pattern})
		defer func() {
			publish(h, ctx, events.HTTPFinish{Request: r, Route: pattern, Status: status, Duration: time.Since(start)})
		}()

		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		var body any
		status, body = fn(ctx, r)
		writeJSON(w, status, body, h.opt.Pretty)
	})
}

func publish[T any](h *Handler, ctx context.Context, e T) {
	if h.opt.Bus != nil {
		eventbus.Emit(ctx, h.opt.Bus, e)
		return
	}
	eventbus.Publish(ctx, e)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// ------------------ Records ------------------

type recordResponse struct {
	ID       string         `json:"id"`
	State    string         `json:"state"`
	Type     string         `json:"type,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Range    bool           `json:"range,omitempty"`
	Deferred []string       `json:"deferred,omitempty"`
	Queued   bool           `json:"queued,omitempty"`
}

func (h *Handler) getRecord(_ context.Context, r *http.Request) (int, any) {
	id := r.PathValue("id")
	for i, layer := range h.cache.Store().Layers() {
		snap, ok, err := layer.Get(id)
		if err != nil {
			return http.StatusInternalServerError, errorResponse(err)
		}
		if !ok {
			continue
		}
		res := recordResponse{ID: id, State: store.Existent.String(), Queued: i == 0 && len(h.cache.Store().Layers()) > 1}
		if snap.Nonexistent {
			res.State = store.Nonexistent.String()
			return http.StatusOK, res
		}
		res.Type = snap.TypeName
		res.Range = len(snap.Range) > 0
		res.Deferred = snap.Deferred
		res.Fields = make(map[string]any, len(snap.Fields))
		for key, v := range snap.Fields {
			res.Fields[key] = fieldJSON(v)
		}
		return http.StatusOK, res
	}
	return http.StatusNotFound, recordResponse{ID: id, State: store.Unknown.String()}
}

// fieldJSON renders links as {"__ref": id} and {"__refs": [ids]}.
func fieldJSON(v store.Value) any {
	switch v.Kind {
	case store.ValueScalar:
		return v.Scalar
	case store.ValueLink:
		return map[string]any{"__ref": v.Link}
	case store.ValueLinks:
		return map[string]any{"__refs": v.Links}
	}
	return nil
}

// ------------------ Ranges ------------------

type rangeEdge struct {
	EdgeID string `json:"edgeID"`
	NodeID string `json:"nodeID"`
}

type rangeResponse struct {
	ID               string       `json:"id"`
	DiffCalls        []query.Call `json:"diffCalls"`
	FilterCalls      []query.Call `json:"filterCalls,omitempty"`
	Edges            []rangeEdge  `json:"edges"`
	PageInfo         any          `json:"pageInfo"`
	RequestedEdgeIDs []string     `json:"requestedEdgeIDs"`
}

func (h *Handler) getRange(_ context.Context, r *http.Request) (int, any) {
	id := r.PathValue("id")
	calls, err := rangeCalls(r)
	if err != nil {
		return http.StatusBadRequest, errorResponse(err)
	}
	md, err := h.cache.RetrieveRangeInfoForQuery(id, calls)
	if err != nil {
		return http.StatusBadRequest, errorResponse(err)
	}
	if md == nil {
		return http.StatusNotFound, errorResponse(fmt.Errorf("no range for %s", id))
	}
	res := rangeResponse{
		ID:               id,
		DiffCalls:        md.DiffCalls,
		FilterCalls:      md.FilterCalls,
		Edges:            make([]rangeEdge, len(md.FilteredEdges)),
		PageInfo:         md.PageInfo,
		RequestedEdgeIDs: md.RequestedEdgeIDs,
	}
	for i, e := range md.FilteredEdges {
		res.Edges[i] = rangeEdge{EdgeID: e.EdgeID, NodeID: e.NodeID}
	}
	return http.StatusOK, res
}

// rangeCalls reads the window from the query string in a fixed order.
// first and last are counts; every other parameter is a string.
func rangeCalls(r *http.Request) ([]query.Call, error) {
	q := r.URL.Query()
	var calls []query.Call
	for _, name := range []string{query.CallFirst, query.CallLast} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			calls = append(calls, query.Call{Name: name, Value: n})
		}
	}
	for _, name := range []string{query.CallAfter, query.CallBefore} {
		if q.Has(name) {
			calls = append(calls, query.Call{Name: name, Value: q.Get(name)})
		}
	}
	return calls, nil
}

// ------------------ Diff and write ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	// Data is the response to write, for /write.
	Data map[string]any `json:"data,omitempty"`
}

type diffResponse struct {
	Complete bool     `json:"complete"`
	Queries  []string `json:"queries"`
}

type writeResponse struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

func (h *Handler) build(r *http.Request) ([]*query.Root, GraphQLRequest, int, any) {
	if h.schema == nil {
		return nil, GraphQLRequest{}, http.StatusNotImplemented, errorResponse(errors.New("no schema configured"))
	}
	req, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if err.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		return nil, req, status, errorResponse(err)
	}
	roots, berr := language.Build(h.schema, req.Query, req.OperationName, req.Variables)
	if berr != nil {
		return nil, req, http.StatusBadRequest, errorResponse(berr)
	}
	return roots, req, http.StatusOK, nil
}

func (h *Handler) postDiff(ctx context.Context, r *http.Request) (int, any) {
	roots, _, status, res := h.build(r)
	if res != nil {
		return status, res
	}
	out := diffResponse{Queries: []string{}}
	for _, root := range roots {
		missing, err := h.cache.Diff(ctx, root)
		if err != nil {
			return http.StatusInternalServerError, errorResponse(err)
		}
		for _, m := range missing {
			out.Queries = append(out.Queries, language.Print(m))
		}
	}
	out.Complete = len(out.Queries) == 0
	return http.StatusOK, out
}

func (h *Handler) postWrite(ctx context.Context, r *http.Request) (int, any) {
	roots, req, status, res := h.build(r)
	if res != nil {
		return status, res
	}
	if req.Data == nil {
		return http.StatusBadRequest, errorResponse(errors.New("missing 'data'"))
	}
	created := map[string]struct{}{}
	updated := map[string]struct{}{}
	for _, root := range roots {
		changes, err := h.cache.WritePayload(ctx, root, req.Data)
		if err != nil {
			return http.StatusBadRequest, errorResponse(err)
		}
		for _, id := range changes.Created {
			created[id] = struct{}{}
		}
		for _, id := range changes.Updated {
			updated[id] = struct{}{}
		}
	}
	out := writeResponse{Created: sortedKeys(created), Updated: []string{}}
	for _, id := range sortedKeys(updated) {
		if _, ok := created[id]; !ok {
			out.Updated = append(out.Updated, id)
		}
	}
	return http.StatusOK, out
}

type collectResponse struct {
	Removed []string `json:"removed"`
}

func (h *Handler) postCollect(ctx context.Context, r *http.Request) (int, any) {
	var col *gc.Collection
	if from := r.URL.Query().Get("from"); from != "" {
		col = h.cache.ScheduleCollectionFromNode(ctx, from)
	} else {
		col = h.cache.ScheduleCollection(ctx)
	}
	if err := col.Wait(ctx); err != nil {
		return http.StatusServiceUnavailable, errorResponse(err)
	}
	removed := col.Removed()
	if removed == nil {
		removed = []string{}
	}
	return http.StatusOK, collectResponse{Removed: removed}
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, *gqlerror.Error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, gqlerror.Errorf("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, gqlerror.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, gqlerror.Errorf(errBodyTooLargeMessage)
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, gqlerror.Errorf("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, gqlerror.Errorf("missing 'query'")
	}
	return req, nil
}

// ------------------ Response formatting ------------------

type specLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type specError struct {
	Message   string         `json:"message"`
	Locations []specLocation `json:"locations,omitempty"`
}

type errorsResult struct {
	Errors []specError `json:"errors"`
}

// errorResponse renders err, expanding GraphQL error lists and locations.
func errorResponse(err error) errorsResult {
	var list gqlerror.List
	var single *gqlerror.Error
	switch {
	case errors.As(err, &list):
	case errors.As(err, &single):
		list = gqlerror.List{single}
	default:
		return errorsResult{Errors: []specError{{Message: err.Error()}}}
	}
	out := errorsResult{Errors: make([]specError, len(list))}
	for i, e := range list {
		se := specError{Message: e.Message}
		for _, loc := range e.Locations {
			se.Locations = append(se.Locations, specLocation{Line: loc.Line, Column: loc.Column})
		}
		out.Errors[i] = se
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !slices.Contains(opts.AllowedOrigins, "*") && !slices.Contains(opts.AllowedOrigins, origin) {
		return
	}
	if slices.Contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
