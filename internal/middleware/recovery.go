package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicHandler writes the response for a recovered panic
type PanicHandler func(w http.ResponseWriter, r *http.Request, err any)

// Recovery turns a handler panic into a logged error response.
// http.ErrAbortHandler is re-raised: streaming handlers use it to drop the
// connection without a response, and net/http expects to see it.
func Recovery(logger *slog.Logger, onPanic PanicHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("panic recovered",
					slog.Any("error", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("player_id", r.Header.Get("X-Player-ID")),
					slog.String("stack", string(debug.Stack())),
				)
				onPanic(w, r, rec)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
