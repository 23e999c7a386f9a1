package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	webhookIDHeader = "X-Shopify-Webhook-Id"
)

// RequestID tags the request context with a correlation id and echoes it.
// A Shopify delivery without X-Request-Id is tagged with its webhook id, so
// every redelivery of one event logs under the same id.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := correlationID(r)
			w.Header().Set(requestIDHeader, id)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	if id := r.Header.Get(webhookIDHeader); id != "" {
		return "shopify-" + id
	}
	return uuid.NewString()
}
