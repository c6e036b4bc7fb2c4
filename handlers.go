package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/crawlkit/signbridge/internal/audit"
	"github.com/crawlkit/signbridge/internal/browser"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/crawlkit/signbridge/internal/signing"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

type Signer interface {
	SignRequest(ctx context.Context, req platform.Request) (platform.Result, error)
}

type Invalidator interface {
	InvalidateFor(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error)
}

type StatusReporter interface {
	Stats() []browser.Stats
	Health(ctx context.Context) []signing.HealthStatus
}

// SignRequestBody is the JSON body of POST /sign/{platform}. Params are
// [key, value] pairs in the order the caller will send them.
type SignRequestBody struct {
	URI        string            `json:"uri"`
	Method     string            `json:"method"`
	Params     [][]string        `json:"params"`
	BodyDigest string            `json:"bodyDigest"`
	Cookies    string            `json:"cookies"`
	Context    map[string]string `json:"context"`
	TimeoutMs  int               `json:"timeoutMs"`
}

// SignResponse carries the fields to merge into the outbound request.
// SignedPath is the path and query the signature was computed over.
type SignResponse struct {
	Platform   platform.Platform   `json:"platform"`
	SignedPath string              `json:"signedPath"`
	Headers    map[string]string   `json:"headers"`
	Query      map[string]string   `json:"query"`
	SignedAt   time.Time           `json:"signedAt"`
	CacheState platform.CacheState `json:"cacheState"`
}

// InvalidateRequestBody is the JSON body of POST /invalidate/{platform}. The
// cookies and context select the key dimension, exactly as for signing. An
// empty key invalidates every secret the platform would use.
type InvalidateRequestBody struct {
	Key     string            `json:"key"`
	URI     string            `json:"uri"`
	Cookies string            `json:"cookies"`
	Context map[string]string `json:"context"`
}

type StatusResponse struct {
	Pools     []browser.Stats        `json:"pools"`
	Platforms []signing.HealthStatus `json:"platforms"`
}

func handlePostSign(signer Signer, maxTimeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := audit.Log(r.Context())

		p, err := platform.Parse(r.PathValue("platform"))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		entry.Platform = string(p)

		var body SignRequestBody
		if err := decodeBody(r, &body); err != nil {
			writeJSONError(w, r, err)
			return
		}

		params, err := decodeParams(body.Params)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		req, err := platform.NewRequest(p, platform.RequestInput{
			Method:     body.Method,
			URI:        body.URI,
			Params:     params,
			BodyDigest: body.BodyDigest,
			Cookies:    body.Cookies,
			Context:    body.Context,
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		ctx := r.Context()
		if body.TimeoutMs > 0 {
			timeout := time.Duration(body.TimeoutMs) * time.Millisecond
			if maxTimeout > 0 {
				timeout = min(timeout, maxTimeout)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := signer.SignRequest(ctx, req)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		entry.CacheState = string(result.CacheState)
		entry.SignedFields = signedFields(result)

		writeJSON(w, http.StatusOK, SignResponse{
			Platform:   result.Platform,
			SignedPath: result.SignedPath,
			Headers:    result.Headers,
			Query:      result.Query,
			SignedAt:   result.SignedAt,
			CacheState: result.CacheState,
		})
	})
}

func handlePostInvalidate(invalidator Invalidator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := audit.Log(r.Context())

		p, err := platform.Parse(r.PathValue("platform"))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		entry.Platform = string(p)

		var body InvalidateRequestBody
		if err := decodeBody(r, &body); err != nil {
			writeJSONError(w, r, err)
			return
		}

		uri := body.URI
		if uri == "" {
			uri = "/"
		}
		req, err := platform.NewRequest(p, platform.RequestInput{
			URI:     uri,
			Cookies: body.Cookies,
			Context: body.Context,
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		if _, err := invalidator.InvalidateFor(r.Context(), req, body.Key); err != nil {
			writeJSONError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleGetStatus(reporter StatusReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, StatusResponse{
			Pools:     reporter.Stats(),
			Platforms: reporter.Health(r.Context()),
		})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

func decodeBody(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return sigerr.Newf(sigerr.KindInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return sigerr.Wrap(sigerr.KindInvalidRequest, err, "request body is not valid JSON")
	}
	return nil
}

// decodeParams requires every entry to be a [key, value] pair with a
// non-empty key.
func decodeParams(pairs [][]string) ([]platform.Param, error) {
	params := make([]platform.Param, 0, len(pairs))
	for i, kv := range pairs {
		if len(kv) != 2 {
			return nil, sigerr.Newf(sigerr.KindInvalidRequest, "params[%d] must be a [key, value] pair, got %d elements", i, len(kv))
		}
		if kv[0] == "" {
			return nil, sigerr.Newf(sigerr.KindInvalidRequest, "params[%d] has an empty key", i)
		}
		params = append(params, platform.Param{Key: kv[0], Value: kv[1]})
	}
	return params, nil
}

func signedFields(result platform.Result) []string {
	fields := slices.Collect(maps.Keys(result.Headers))
	for k := range result.Query {
		fields = append(fields, "query:"+k)
	}
	slices.Sort(fields)
	return fields
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// the status is already written, so the client cannot be told
		log.Info().Err(err).Msg("failed to write response")
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeJSONError writes a classified error and records it on the audit entry.
// Unclassified errors are reported as internal without detail.
func writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	kind := string(sigerr.KindOf(err))
	if kind == "" {
		kind = "internal"
	}

	entry := audit.Log(r.Context())
	entry.ErrorKind = kind
	entry.Error = err.Error()

	log.Ctx(r.Context()).Info().Err(err).Str("kind", kind).Int("status", status).Msg("request failed")

	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Kind: kind, Message: message}})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// after this we'll assume the client is broken or malicious and close
		// the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
