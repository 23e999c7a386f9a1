package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/angelmondragon/cardsync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

// Recoverer answers a handler panic with the internal error envelope. A panic
// inside a webhook transaction rolls the ledger row back, so the 500 makes
// Shopify redeliver the event.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic":  fmt.Sprint(rec),
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					})
				}
				cause := pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("handler panicked on %s %s", r.Method, r.URL.Path))
				responses.WriteError(ctx, logg, w, cause)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
