package providers

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/irfndi/notifybus/internal/notification/status"
)

var firebaseRequiredKeys = []string{
	"type",
	"project_id",
	"private_key_id",
	"private_key",
	"client_email",
	"client_id",
	"auth_uri",
	"token_uri",
	"auth_provider_x509_cert_url",
	"client_x509_cert_url",
}

// firebaseApps caches one initialized *firebase.App per project_id so
// repeated Send calls (and repeated Provider rows sharing credentials) don't
// re-parse a service account key on every dispatch.
var (
	firebaseAppsMu sync.Mutex
	firebaseApps   = make(map[string]*firebase.App)
)

// FirebasePushProvider delivers push notifications through FCM using a
// service-account credential embedded in the Provider's config (so no
// credential file needs to exist on disk). Grounded on
// firebase_push_provider.py; firebase.google.com/go/v4 is the SDK the pack
// uses for FCM.
type FirebasePushProvider struct {
	config map[string]interface{}
}

// NewFirebasePushProvider satisfies providers.Constructor.
func NewFirebasePushProvider(config map[string]interface{}) Adapter {
	return &FirebasePushProvider{config: config}
}

// ValidateConfig checks for the full service-account key shape.
func (f *FirebasePushProvider) ValidateConfig() bool {
	missing := missingKeys(f.config, firebaseRequiredKeys)
	if len(missing) > 0 {
		log.Printf("FirebasePushProvider: missing config keys: %v", missing)
		return false
	}
	return true
}

// Send multicasts a notification to recipients, where each recipient is an
// FCM device token. content keys: title, body, and an optional data map of
// string key/value pairs delivered alongside the notification payload.
func (f *FirebasePushProvider) Send(ctx context.Context, recipients []string, content map[string]interface{}) status.State {
	app, err := f.app(ctx)
	if err != nil {
		log.Printf("FirebasePushProvider: init failed: %v", err)
		return status.Failed
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("FirebasePushProvider: messaging client failed: %v", err)
		return status.Failed
	}

	title, _ := stringField(content, "title")
	body, _ := stringField(content, "body")

	data := map[string]string{}
	if raw, ok := content["data"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				data[k] = s
			}
		}
	}

	msg := &messaging.MulticastMessage{
		Tokens: recipients,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	resp, err := client.SendEachForMulticast(ctx, msg)
	if err != nil {
		log.Printf("FirebasePushProvider: send exception: %v", err)
		return status.Failed
	}
	if resp.SuccessCount <= 0 {
		return status.Failed
	}
	return status.Sent
}

func (f *FirebasePushProvider) app(ctx context.Context) (*firebase.App, error) {
	projectID, _ := stringField(f.config, "project_id")

	firebaseAppsMu.Lock()
	defer firebaseAppsMu.Unlock()

	if app, ok := firebaseApps[projectID]; ok {
		return app, nil
	}

	keyJSON, err := json.Marshal(f.config)
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON(keyJSON))
	if err != nil {
		return nil, err
	}

	firebaseApps[projectID] = app
	return app, nil
}
