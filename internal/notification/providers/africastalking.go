package providers

import (
	"context"
	"log"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/irfndi/notifybus/internal/notification/status"
)

var africasTalkingRequiredKeys = []string{"username", "api_key"}

const africasTalkingEndpoint = "https://api.africastalking.com/version1/messaging"

// AfricasTalkingSMSProvider posts an SMS send request to the Africa's
// Talking bulk messaging API. Recipients are joined into a single
// comma-separated "to" field per the provider's form contract. Grounded on
// africas_talking_sms_provider.py; go-resty/resty/v2 is the pack's HTTP
// client for provider adapters (also used by BelioSMSProvider).
type AfricasTalkingSMSProvider struct {
	config map[string]interface{}
	client *resty.Client
}

// NewAfricasTalkingSMSProvider satisfies providers.Constructor.
func NewAfricasTalkingSMSProvider(config map[string]interface{}) Adapter {
	return &AfricasTalkingSMSProvider{
		config: config,
		client: resty.New(),
	}
}

// ValidateConfig checks for username and api_key; sender_id is optional.
func (a *AfricasTalkingSMSProvider) ValidateConfig() bool {
	missing := missingKeys(a.config, africasTalkingRequiredKeys)
	if len(missing) > 0 {
		log.Printf("AfricasTalkingSMSProvider: missing config keys: %v", missing)
		return false
	}
	return true
}

// Send submits the message to every recipient in one request. content keys:
// body.
func (a *AfricasTalkingSMSProvider) Send(ctx context.Context, recipients []string, content map[string]interface{}) status.State {
	username, _ := stringField(a.config, "username")
	apiKey, _ := stringField(a.config, "api_key")
	message, _ := stringField(content, "body")

	form := map[string]string{
		"username": username,
		"to":       strings.Join(recipients, ","),
		"message":  message,
	}
	if senderID, ok := stringField(a.config, "sender_id"); ok && senderID != "" {
		form["from"] = senderID
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("apiKey", apiKey).
		SetHeader("Accept", "application/json").
		SetFormData(form).
		Post(africasTalkingEndpoint)

	if err != nil {
		log.Printf("AfricasTalkingSMSProvider: request failed: %v", err)
		return status.Failed
	}
	if resp.IsError() {
		log.Printf("AfricasTalkingSMSProvider: non-2xx response: %d %s", resp.StatusCode(), resp.String())
		return status.Failed
	}
	return status.Sent
}
