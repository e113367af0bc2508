package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/notifybus/internal/notification"
	"github.com/irfndi/notifybus/internal/notification/providers"
	"github.com/irfndi/notifybus/internal/notification/status"
)

type fakeStore struct {
	systems    map[uuid.UUID]*notification.System
	byName     map[string]*notification.System
	notifs     map[uuid.UUID]*notification.Notification
	failUpdate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		systems: map[uuid.UUID]*notification.System{},
		byName:  map[string]*notification.System{},
		notifs:  map[uuid.UUID]*notification.Notification{},
	}
}

func (f *fakeStore) GetSystemByName(_ context.Context, name string) (*notification.System, error) {
	sys, ok := f.byName[name]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return sys, nil
}

func (f *fakeStore) GetSystemByID(_ context.Context, id uuid.UUID) (*notification.System, error) {
	sys, ok := f.systems[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return sys, nil
}

func (f *fakeStore) GetOrganisationByName(_ context.Context, _ uuid.UUID, _ string) (*notification.Organisation, error) {
	return nil, notification.ErrNotFound
}

func (f *fakeStore) GetTemplateByName(_ context.Context, _ notification.Type, _ string) (*notification.Template, error) {
	return nil, notification.ErrNotFound
}

func (f *fakeStore) GetTemplateByID(_ context.Context, _ uuid.UUID) (*notification.Template, error) {
	return nil, notification.ErrNotFound
}

func (f *fakeStore) ListActiveProvidersByType(_ context.Context, _ notification.Type) ([]*notification.Provider, error) {
	return nil, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *notification.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	f.notifs[n.ID] = n
	return nil
}

func (f *fakeStore) GetNotification(_ context.Context, id uuid.UUID) (*notification.Notification, error) {
	n, ok := f.notifs[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) UpdateNotificationStatus(_ context.Context, id uuid.UUID, newStatus status.State, providerID *uuid.UUID, sentTime *time.Time, message string) (*notification.Notification, error) {
	if f.failUpdate {
		return nil, errors.New("connection reset by peer")
	}
	n, ok := f.notifs[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	n.Status = newStatus
	n.Message = message
	return n, nil
}

func (f *fakeStore) ListStalePending(_ context.Context, _ time.Time, _ int) ([]*notification.Notification, error) {
	return nil, nil
}

type fakeRegistry struct{}

func (fakeRegistry) Build(_ string, _ map[string]interface{}) (providers.Adapter, error) {
	return nil, &providers.ErrUnknownProviderClass{ClassName: "unused"}
}

func newTestApp() (*fakeStore, *notification.Engine) {
	store := newFakeStore()
	callbacks := notification.NewCallbackEmitter(time.Second, nil, nil)
	engine := notification.NewEngine(store, fakeRegistry{}, callbacks, nil)
	return store, engine
}

func TestHealth(t *testing.T) {
	_, engine := newTestApp()
	app := New(Options{Engine: engine})

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendNotification_UnknownSystem(t *testing.T) {
	_, engine := newTestApp()
	app := New(Options{Engine: engine})

	body, _ := json.Marshal(map[string]interface{}{
		"system":            "ghost",
		"notification_type": "email",
		"recipients":        []string{"a@example.com"},
		"context":           map[string]interface{}{},
	})
	req, _ := http.NewRequest(http.MethodPost, "/send-notification/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out notification.AdmissionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEqual(t, "100.000.000", out.Code)
}

func TestSendNotification_Accepted(t *testing.T) {
	store, engine := newTestApp()
	sys := &notification.System{ID: uuid.New(), Name: "acme"}
	store.byName["acme"] = sys
	store.systems[sys.ID] = sys

	app := New(Options{Engine: engine})

	body, _ := json.Marshal(map[string]interface{}{
		"system":            "acme",
		"notification_type": "email",
		"recipients":        []string{"a@example.com"},
		"context":           map[string]interface{}{},
	})
	req, _ := http.NewRequest(http.MethodPost, "/send-notification/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out notification.AdmissionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "100.000.000", out.Code)
	assert.Len(t, store.notifs, 1)
}

func TestBelioCallback_MalformedBody(t *testing.T) {
	_, engine := newTestApp()
	app := New(Options{Engine: engine})

	req, _ := http.NewRequest(http.MethodPost, "/belio-sms-callback/", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBelioCallback_UnknownNotification(t *testing.T) {
	_, engine := newTestApp()
	app := New(Options{Engine: engine})

	body, _ := json.Marshal(map[string]interface{}{
		"deliveryStatus": "DeliveredToTerminal",
		"correlator":     uuid.New().String(),
	})
	req, _ := http.NewRequest(http.MethodPost, "/belio-sms-callback/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBelioCallback_InternalErrorMapsTo500(t *testing.T) {
	store, engine := newTestApp()
	n := &notification.Notification{ID: uuid.New(), Status: status.ConfirmationPending}
	store.notifs[n.ID] = n
	store.failUpdate = true
	app := New(Options{Engine: engine})

	body, _ := json.Marshal(map[string]interface{}{
		"deliveryStatus": "DeliveredToTerminal",
		"correlator":     n.ID.String(),
	})
	req, _ := http.NewRequest(http.MethodPost, "/belio-sms-callback/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Internal server error", out["message"])
}

func TestBelioCallback_Success(t *testing.T) {
	store, engine := newTestApp()
	n := &notification.Notification{ID: uuid.New(), Status: status.ConfirmationPending}
	store.notifs[n.ID] = n
	app := New(Options{Engine: engine})

	body, _ := json.Marshal(map[string]interface{}{
		"deliveryStatus": "DeliveredToTerminal",
		"correlator":     n.ID.String(),
	})
	req, _ := http.NewRequest(http.MethodPost, "/belio-sms-callback/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Success", out["message"])
}
