// Package fulfillment integrates with the external Digital Delivery Service,
// which provisions download links for digital order items.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Deliverer hands a committed order's digital items to the delivery service.
// Languages maps order item ids to the customer's requested language; items
// without a preference are omitted and delivered in the default language.
//
// Deliverer calls must be idempotent on the remote side: the trigger may be
// re-invoked out-of-band for the same order after a transient failure.
type Deliverer interface {
	Deliver(ctx context.Context, orderID uuid.UUID, languages map[uuid.UUID]string) error
}

// HTTPDeliverer calls the delivery service over HTTP.
type HTTPDeliverer struct {
	baseURL string
	client  *http.Client
}

var _ Deliverer = (*HTTPDeliverer)(nil)

// NewHTTPDeliverer creates a Deliverer posting to baseURL. The timeout bounds
// the whole request so a slow delivery service cannot hold request-handling
// resources; checkout ignores delivery errors anyway.
func NewHTTPDeliverer(baseURL string, timeout time.Duration) *HTTPDeliverer {
	return &HTTPDeliverer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type deliverRequest struct {
	OrderID   string            `json:"orderId"`
	Languages map[string]string `json:"languages,omitempty"`
}

// Deliver posts the order to the delivery service.
func (d *HTTPDeliverer) Deliver(ctx context.Context, orderID uuid.UUID, languages map[uuid.UUID]string) error {
	payload := deliverRequest{
		OrderID:   orderID.String(),
		Languages: make(map[string]string, len(languages)),
	}
	for itemID, lang := range languages {
		payload.Languages[itemID.String()] = lang
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal deliver request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/deliveries", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build deliver request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "call delivery service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("delivery service returned %d", resp.StatusCode)
	}
	return nil
}

// Nop is a Deliverer that does nothing, used when no delivery service is
// configured.
type Nop struct{}

var _ Deliverer = Nop{}

func (Nop) Deliver(context.Context, uuid.UUID, map[uuid.UUID]string) error { return nil }
