package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/florinutz/deltashare"
	"github.com/florinutz/deltashare/capability"
	"github.com/florinutz/deltashare/inspect"
	"github.com/florinutz/deltashare/internal/ratelimit"
	"github.com/florinutz/deltashare/sharingerr"
	"github.com/florinutz/deltashare/wire"
)

const (
	versionHeader    = "Delta-Table-Version"
	capabilityHeader = capability.Header

	maxQueryBody = 1 << 20
)

type api struct {
	svc       *deltashare.Service
	logger    *slog.Logger
	inspector *inspect.Inspector
}

// routes registers the Delta Sharing protocol:
//
//	GET       /shares
//	GET       /shares/{share}
//	GET       /shares/{share}/schemas
//	GET       /shares/{share}/schemas/{schema}/tables
//	GET       /shares/{share}/all-tables
//	GET, HEAD /shares/{share}/schemas/{schema}/tables/{table}/version
//	GET       /shares/{share}/schemas/{schema}/tables/{table}/metadata
//	POST      /shares/{share}/schemas/{schema}/tables/{table}/query
func (a *api) routes(r chi.Router, limiter *ratelimit.Limiter) {
	r.Get("/shares", a.listShares)
	r.Route("/shares/{share}", func(r chi.Router) {
		r.Get("/", a.getShare)
		r.Get("/schemas", a.listSchemas)
		r.Get("/all-tables", a.listAllTables)
		r.Get("/schemas/{schema}/tables", a.listTables)
		r.Route("/schemas/{schema}/tables/{table}", func(r chi.Router) {
			version := a.inspected(inspect.RouteVersion)
			r.With(version).Get("/version", a.tableVersion)
			r.With(version).Head("/version", a.tableVersion)
			r.With(a.inspected(inspect.RouteMetadata)).Get("/metadata", a.metadata)
			r.With(a.rateLimited(limiter), a.inspected(inspect.RouteQuery)).Post("/query", a.query)
		})
	})
}

func tableName(r *http.Request) deltashare.TableName {
	return deltashare.TableName{
		Share:  chi.URLParam(r, "share"),
		Schema: chi.URLParam(r, "schema"),
		Table:  chi.URLParam(r, "table"),
	}
}

func (a *api) rateLimited(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Wait(r.Context()); err != nil {
				if ctxErr := r.Context().Err(); ctxErr != nil {
					a.writeError(w, r, ctxErr)
					return
				}
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					ErrorCode: codeRateLimited,
					Message:   "query rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// inspected records each request on route when an inspector is set.
func (a *api) inspected(route inspect.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a.inspector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			version := int64(-1)
			if v, err := strconv.ParseInt(ww.Header().Get(versionHeader), 10, 64); err == nil {
				version = v
			}
			status := ww.Status()
			if status == 0 {
				status = statusClientClosedReq
			}
			a.inspector.Record(inspect.Record{
				Time:           start,
				Route:          route,
				Method:         r.Method,
				Table:          tableName(r).String(),
				Status:         status,
				Version:        version,
				ResponseFormat: strings.TrimPrefix(strings.SplitN(ww.Header().Get(capabilityHeader), ";", 2)[0], "responseformat="),
				Bytes:          ww.BytesWritten(),
				Duration:       time.Since(start),
			})
		})
	}
}

// --- Listings ---

type listing[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// writeListing pages items by the maxResults and pageToken query parameters.
func writeListing[T any](a *api, w http.ResponseWriter, r *http.Request, scope string, items []T) {
	size := 0
	if s := r.URL.Query().Get("maxResults"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			a.writeError(w, r, &sharingerr.InvalidRequestError{Field: "maxResults", Reason: "not an integer"})
			return
		}
		size = n
	}
	start, end, next, err := a.svc.Paginator().Window(scope, len(items), r.URL.Query().Get("pageToken"), size)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	page := items[start:end]
	if page == nil {
		page = []T{}
	}
	writeJSON(w, http.StatusOK, listing[T]{Items: page, NextPageToken: next})
}

func (a *api) listShares(w http.ResponseWriter, r *http.Request) {
	shares, err := a.svc.Registry().Shares(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeListing(a, w, r, "listing:shares", shares)
}

func (a *api) getShare(w http.ResponseWriter, r *http.Request) {
	share, err := a.svc.Registry().Share(r.Context(), chi.URLParam(r, "share"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"share": share})
}

func (a *api) listSchemas(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	schemas, err := a.svc.Registry().Schemas(r.Context(), share)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeListing(a, w, r, "listing:schemas:"+share, schemas)
}

func (a *api) listTables(w http.ResponseWriter, r *http.Request) {
	share, schema := chi.URLParam(r, "share"), chi.URLParam(r, "schema")
	tables, err := a.svc.Registry().Tables(r.Context(), share, schema)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeListing(a, w, r, "listing:tables:"+share+"."+schema, tables)
}

func (a *api) listAllTables(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	tables, err := a.svc.Registry().AllTables(r.Context(), share)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeListing(a, w, r, "listing:all-tables:"+share, tables)
}

// --- Table routes ---

func (a *api) tableVersion(w http.ResponseWriter, r *http.Request) {
	starting, err := parseTime("startingTimestamp", r.URL.Query().Get("startingTimestamp"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.svc.TableVersion(r.Context(), tableName(r), starting)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set(versionHeader, strconv.FormatInt(v, 10))
	w.WriteHeader(http.StatusOK)
}

func (a *api) metadata(w http.ResponseWriter, r *http.Request) {
	caps, err := capability.ParseHeader(r.Header.Get(capabilityHeader))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	at, err := atFromQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.svc.Metadata(r.Context(), deltashare.MetadataRequest{Name: tableName(r), At: at, Capabilities: caps})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeNDJSON(w, r, res.Decision, res.Snapshot.Version, res.Encode)
}

// queryBody is the POST body of a query. predicateHints and limitHint are
// accepted and ignored.
type queryBody struct {
	PredicateHints     []string `json:"predicateHints,omitempty"`
	JSONPredicateHints string   `json:"jsonPredicateHints,omitempty"`
	LimitHint          *int64   `json:"limitHint,omitempty"`
	Version            *int64   `json:"version,omitempty"`
	Timestamp          string   `json:"timestamp,omitempty"`
	StartingVersion    *int64   `json:"startingVersion,omitempty"`
	EndingVersion      *int64   `json:"endingVersion,omitempty"`
	MaxFiles           *int     `json:"maxFiles,omitempty"`
	PageToken          string   `json:"pageToken,omitempty"`
}

func (b queryBody) request(name deltashare.TableName, caps *capability.Set) (deltashare.QueryRequest, error) {
	if b.StartingVersion != nil || b.EndingVersion != nil {
		return deltashare.QueryRequest{}, &sharingerr.InvalidRequestError{
			Field:  "startingVersion",
			Reason: "change data feed queries are not supported",
		}
	}
	ts, err := parseTime("timestamp", b.Timestamp)
	if err != nil {
		return deltashare.QueryRequest{}, err
	}
	req := deltashare.QueryRequest{
		Name:         name,
		At:           deltashare.At{Version: b.Version, Timestamp: ts},
		Capabilities: caps,
		Token:        b.PageToken,
	}
	if b.MaxFiles != nil {
		if *b.MaxFiles <= 0 {
			return deltashare.QueryRequest{}, &sharingerr.InvalidRequestError{Field: "maxFiles", Reason: "must be positive"}
		}
		req.MaxFiles = *b.MaxFiles
	}
	if b.JSONPredicateHints != "" {
		req.Predicates = []string{b.JSONPredicateHints}
	}
	return req, nil
}

func (a *api) query(w http.ResponseWriter, r *http.Request) {
	caps, err := capability.ParseHeader(r.Header.Get(capabilityHeader))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var body queryBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, r, &sharingerr.InvalidRequestError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}
	req, err := body.request(tableName(r), caps)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.svc.Query(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeNDJSON(w, r, res.Decision, res.Page.Version, res.Encode)
}

// writeNDJSON writes the negotiated headers and streams encode's lines.
// Once the status is written, encoding errors can only be logged.
func (a *api) writeNDJSON(w http.ResponseWriter, r *http.Request, d capability.Decision, version int64, encode func(*wire.Encoder) error) {
	enc, err := wire.NewEncoder(w, d.ResponseFormat)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", wire.ContentType)
	w.Header().Set(capabilityHeader, d.Header())
	w.Header().Set(versionHeader, strconv.FormatInt(version, 10))
	w.WriteHeader(http.StatusOK)
	if err := encode(enc); err != nil {
		a.logger.Warn("response stream interrupted", "path", r.URL.Path, "error", err)
	}
}

func atFromQuery(r *http.Request) (deltashare.At, error) {
	var at deltashare.At
	q := r.URL.Query()
	if s := q.Get("version"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return at, &sharingerr.InvalidRequestError{Field: "version", Reason: "not an integer"}
		}
		at.Version = &v
	}
	ts, err := parseTime("timestamp", q.Get("timestamp"))
	if err != nil {
		return at, err
	}
	at.Timestamp = ts
	return at, nil
}

// parseTime parses an ISO 8601 timestamp. An empty value returns nil.
func parseTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, &sharingerr.InvalidRequestError{Field: field, Reason: "not an ISO 8601 timestamp: " + s}
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
