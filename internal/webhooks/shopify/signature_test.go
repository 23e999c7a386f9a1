package shopifywebhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"id":1}`)
	secret := "whsec"

	cases := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      SignatureResult
	}{
		{name: "valid", body: body, signature: Sign(body, secret), secret: secret, want: SignatureValid},
		{name: "padded header", body: body, signature: " " + Sign(body, secret) + " ", secret: secret, want: SignatureValid},
		{name: "tampered body", body: []byte(`{"id":2}`), signature: Sign(body, secret), secret: secret, want: SignatureInvalid},
		{name: "wrong secret", body: body, signature: Sign(body, "other"), secret: secret, want: SignatureInvalid},
		{name: "missing header", body: body, signature: "", secret: secret, want: SignatureInvalid},
		{name: "missing secret", body: body, signature: Sign(body, secret), secret: "", want: SignatureInvalid},
		{name: "not base64", body: body, signature: "%%%", secret: secret, want: SignatureInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Verify(tc.body, tc.signature, tc.secret))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]EventKind{
		"orders/paid":             EventSaleConfirmed,
		"orders/cancelled":        EventOrderCancelled,
		"refunds/create":          EventRefundCreated,
		"inventory_levels/update": EventInventoryLevelChanged,
		"products/update":         EventProductUpdated,
		"products/delete":         EventProductDeleted,
		"product_listings/remove": EventListingUnpublished,
		" Orders/Paid ":           EventSaleConfirmed,
		"customers/create":        EventUnknown,
		"":                        EventUnknown,
	}
	for topic, want := range cases {
		assert.Equal(t, want, Classify(topic), topic)
	}
	assert.Equal(t, "unknown", EventUnknown.String())
	assert.Equal(t, "sale_confirmed", EventSaleConfirmed.String())
}
