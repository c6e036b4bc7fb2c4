// Package audit writes one structured log entry per inbound request.
//
// The middleware attaches an Entry to the request context; handlers and the
// signing orchestrator fill it in, and it is written at Level when the
// request completes, including when the handler panics.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the dedicated log level for audit entries. It sits above every
// standard level so audit output survives any level filtering.
const Level = zerolog.Level(20)

type contextKey struct{}

// SecretUse records how one secret was obtained for a signing request.
type SecretUse struct {
	Key       string
	Refreshed bool
}

func (s SecretUse) MarshalZerologObject(e *zerolog.Event) {
	e.Str("key", s.Key).Bool("refreshed", s.Refreshed)
}

// Entry is the audit record for one request.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	Duration  time.Duration

	Platform     string
	CacheState   string
	Secrets      []SecretUse
	SignedFields []string
	Invalidated  []string

	ErrorKind string
	Error     string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	if e.Duration > 0 {
		request.Dur("duration", e.Duration)
	}
	ev.Dict("request", request)

	signing := &optionalDict{}
	signing.
		Str("platform", e.Platform).
		Str("cacheState", e.CacheState).
		Strs("fields", e.SignedFields).
		Strs("invalidated", e.Invalidated).
		Secrets("secrets", e.Secrets).
		WriteTo(ev, "signing")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
	if e.ErrorKind != "" {
		ev.Str("errorKind", e.ErrorKind)
	}
}

// Begin captures the request fields of r.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	e.SourceIP = host
}

// End returns a function that writes the entry. A zero status is recorded as
// 200, matching net/http's implicit status.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		if e.Status == 0 {
			e.Status = http.StatusOK
		}
		e.Duration = time.Since(start)

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
	}
}

// Context returns the entry attached to ctx, attaching a new one if none is
// present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Log returns the entry for ctx. Outside the middleware the entry is
// detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for every request passing through it.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			write := entry.End(ctx)

			defer func() {
				if p := recover(); p != nil {
					msg := fmt.Sprintf("panic: %v", p)
					if entry.Error != "" {
						msg = entry.Error + "; " + msg
					}
					entry.Error = msg
					entry.Status = http.StatusInternalServerError
					write()
					panic(p)
				}
				write()
			}()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	s.entry.Status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
