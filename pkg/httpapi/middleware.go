package httpapi

import (
	"fmt"
	"net/http"

	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/command"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-Id"

// traced attaches a trace id, honouring one supplied by the caller.
func (s *Server) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)

		ctx := tracing.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log := tracing.LoggerFromContext(r.Context(), s.logger)
				log.Error().
					Interface("panic", p).
					Str("path", r.URL.Path).
					Msg("HTTP handler panicked")
				writeEnvelope(w, command.Envelope{Error: &command.ErrorBody{
					Code:    command.CodeInternal,
					Message: fmt.Sprintf("internal error: %v", p),
				}})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
