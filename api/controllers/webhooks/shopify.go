package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/cardsync-backend/api/responses"
	shopifywebhook "github.com/angelmondragon/cardsync-backend/internal/webhooks/shopify"
	pkgerrors "github.com/angelmondragon/cardsync-backend/pkg/errors"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
)

const (
	headerTopic     = "X-Shopify-Topic"
	headerSignature = "X-Shopify-Hmac-Sha256"
	headerEventID   = "X-Shopify-Webhook-Id"
	headerShop      = "X-Shopify-Shop-Domain"

	maxBodyBytes = 5 << 20
)

type ShopifyWebhookService interface {
	Handle(ctx context.Context, d shopifywebhook.Delivery) (shopifywebhook.Outcome, error)
}

// ShopifyWebhook verifies and applies Shopify deliveries. Only a bad
// signature, missing identity headers or a failed apply are reported as
// errors; everything else is acknowledged so Shopify stops retrying.
func ShopifyWebhook(svc ShopifyWebhookService, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if shopifywebhook.Verify(payload, r.Header.Get(headerSignature), secret) != shopifywebhook.SignatureValid {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		delivery := shopifywebhook.Delivery{
			EventID:    strings.TrimSpace(r.Header.Get(headerEventID)),
			Topic:      strings.TrimSpace(r.Header.Get(headerTopic)),
			ShopDomain: strings.TrimSpace(r.Header.Get(headerShop)),
			Body:       payload,
		}
		if missing := missingHeaders(delivery); len(missing) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook headers missing").
				WithDetails(map[string]any{"missing": missing}))
			return
		}

		outcome, err := svc.Handle(ctx, delivery)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithEvent(ctx, delivery.EventID, delivery.Topic)
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "shopify webhook accepted")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}

func missingHeaders(d shopifywebhook.Delivery) []string {
	var missing []string
	if d.Topic == "" {
		missing = append(missing, headerTopic)
	}
	if d.EventID == "" {
		missing = append(missing, headerEventID)
	}
	if d.ShopDomain == "" {
		missing = append(missing, headerShop)
	}
	return missing
}
