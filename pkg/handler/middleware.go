package handler

import (
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"github.com/rius2g/splitgroup/pkg/logging"
)

const TraceHeader = "X-Trace-Id"

// CorrelationId puts the caller's trace id, or a fresh one, on the request
// context and echoes it in the response.
func CorrelationId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		correlationId := r.Header.Get(TraceHeader)
		if correlationId == "" {
			correlationId = uuid.NewString()
		}

		ctx := logging.WithRequestId(r.Context(), correlationId)
		logging.Logger(ctx).Debugw("Adding correlation-id to request context", "method", r.Method, "path", r.URL.Path)

		rw.Header().Set(TraceHeader, correlationId)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// Wrap applies the outer middleware chain to the router.
func Wrap(router http.Handler, corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", TraceHeader}),
		handlers.ExposedHeaders([]string{TraceHeader}),
	)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		cors(handlers.LoggingHandler(os.Stdout, CorrelationId(router))),
	)
}
