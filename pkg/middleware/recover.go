package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"chatembed/pkg/problems"
)

// Recover turns a handler panic into a 500 problem response. Nothing about
// the panic reaches the caller.
func Recover(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Errorw("panic", "err", rec, "path", r.URL.Path,
						"request_id", RequestIDFrom(r.Context()), "stack", string(debug.Stack()))
					problems.Write(w, http.StatusInternalServerError, "internal_error", "Internal error", "internal error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
