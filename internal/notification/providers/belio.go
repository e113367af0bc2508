package providers

import (
	"context"
	"log"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/irfndi/notifybus/internal/notification/status"
)

var belioRequiredKeys = []string{"api_key", "cookie", "url", "default_sms_service_id", "callback_url"}

// belioDeliveryRequest is the JSON body Belio expects: the recipient, the
// text, which SMS service to bill against, and where to POST the eventual
// delivery report.
type belioDeliveryRequest struct {
	Address               string `json:"address"`
	Message               string `json:"message"`
	SenderAddress         string `json:"senderAddress,omitempty"`
	DeliveryReportRequest bool   `json:"deliveryReportRequest"`
	CallbackURL           string `json:"callbackUrl"`
	ClientCorrelator      string `json:"clientCorrelator"`
}

// BelioSMSProvider is the only adapter that does not resolve the ultimate
// delivery outcome synchronously: a successful submission only confirms
// Belio accepted the message for delivery, and the real terminal state
// arrives later through the inbound delivery-report callback keyed by
// clientCorrelator. Grounded on belio_sms_server.py.
type BelioSMSProvider struct {
	config map[string]interface{}
	client *resty.Client
}

// NewBelioSMSProvider satisfies providers.Constructor.
func NewBelioSMSProvider(config map[string]interface{}) Adapter {
	return &BelioSMSProvider{
		config: config,
		client: resty.New(),
	}
}

// ValidateConfig checks for api_key, cookie, url, default_sms_service_id,
// callback_url.
func (b *BelioSMSProvider) ValidateConfig() bool {
	missing := missingKeys(b.config, belioRequiredKeys)
	if len(missing) > 0 {
		log.Printf("BelioSMSProvider: missing config keys: %v", missing)
		return false
	}
	return true
}

// Send submits one delivery request per recipient and returns
// ConfirmationPending as soon as Belio accepts all of them; it never returns
// Sent directly. content keys: body, sender_id (optional). The
// clientCorrelator embeds the notification id so the inbound delivery
// report handler can match it back.
func (b *BelioSMSProvider) Send(ctx context.Context, recipients []string, content map[string]interface{}) status.State {
	endpoint, _ := stringField(b.config, "url")
	apiKey, _ := stringField(b.config, "api_key")
	cookie, _ := stringField(b.config, "cookie")
	callbackURL, _ := stringField(b.config, "callback_url")
	message, _ := stringField(content, "body")
	senderAddress, _ := stringField(content, "sender_id")

	correlator, _ := stringField(content, "notification_id")
	if correlator == "" {
		correlator = uuid.NewString()
	}

	for _, recipient := range recipients {
		body := belioDeliveryRequest{
			Address:               recipient,
			Message:               message,
			SenderAddress:         senderAddress,
			DeliveryReportRequest: true,
			CallbackURL:           callbackURL,
			ClientCorrelator:      correlator,
		}

		resp, err := b.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+apiKey).
			SetHeader("Cookie", cookie).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(endpoint)

		if err != nil {
			log.Printf("BelioSMSProvider: request failed for %s: %v", recipient, err)
			return status.Failed
		}
		if resp.IsError() {
			log.Printf("BelioSMSProvider: non-2xx response for %s: %d %s", recipient, resp.StatusCode(), resp.String())
			return status.Failed
		}
	}

	return status.ConfirmationPending
}
