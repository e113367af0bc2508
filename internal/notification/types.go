// Package notification implements the notification dispatch bus: admission,
// persistence, type-specific validation/rendering, provider fan-out, and
// tenant callback emission. It keeps a repository + queue + engine + worker
// shape and generalizes it into a multi-tenant, multi-provider dispatch
// pipeline.
package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/irfndi/notifybus/internal/notification/status"
)

// Type is a notification category.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
	TypePush  Type = "push"
)

// CallbackType selects how a System receives its outcome callback.
type CallbackType string

const (
	CallbackWebhook CallbackType = "webhook"
	CallbackQueue   CallbackType = "queue"
)

// System is a tenant: an external application submitting notification
// requests and receiving outcome callbacks.
type System struct {
	ID               uuid.UUID
	Name             string // unique, lowercase
	EmailSignature   string
	SMSSignature     string
	DefaultFromEmail string
	CallbackType     CallbackType
	WebhookURL       string
	WebhookAuthToken string
	QueueName        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ResolvedQueueName returns the AMQP queue a tenant callback is published to,
// defaulting to "<system>_queue" when QueueName is unset.
func (s System) ResolvedQueueName() string {
	if s.QueueName != "" {
		return s.QueueName
	}
	return s.Name + "_queue"
}

// RoutingKey is the AMQP routing key/task name for a tenant callback.
func (s System) RoutingKey() string {
	return s.Name + ".handle_notification_response"
}

// Organisation is an optional sub-tenant of a System, unique by name.
type Organisation struct {
	ID        uuid.UUID
	Name      string
	SystemID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Template holds subject/body strings for a NotificationType.
type Template struct {
	ID        uuid.UUID
	Name      string
	Type      Type
	Subject   string // may be empty for non-email
	Body      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider is a configured third-party backend for one NotificationType.
type Provider struct {
	ID        uuid.UUID
	Name      string
	Type      Type
	Config    map[string]interface{}
	Priority  *int // nullable; nulls sort last
	IsActive  bool
	ClassName string // selects the adapter in the Provider Registry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is the aggregate root / ledger entry.
type Notification struct {
	ID               uuid.UUID
	SystemID         uuid.UUID
	OrganisationID   *uuid.UUID
	UniqueIdentifier string // opaque tenant-supplied correlator
	Type             Type
	Recipients       []string
	TemplateID       *uuid.UUID
	Context          map[string]interface{}
	ProviderID       *uuid.UUID
	SentTime         *time.Time
	Status           status.State
	Message          string // failure reason, if any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AdmissionRequest is the raw payload accepted at the admission endpoint.
// The dispatch queue job does not carry it; see DispatchJob.
type AdmissionRequest struct {
	System           string                 `json:"system"`
	Organisation     string                 `json:"organisation,omitempty"`
	UniqueIdentifier string                 `json:"unique_identifier,omitempty"`
	NotificationType string                 `json:"notification_type"`
	Recipients       interface{}            `json:"recipients"` // []string or comma-separated string
	Template         string                 `json:"template,omitempty"`
	Context          map[string]interface{} `json:"context"`
}

// CallbackPayload is the JSON body delivered to a tenant by webhook or queue.
type CallbackPayload struct {
	NotificationID   string `json:"notification_id"`
	UniqueIdentifier string `json:"unique_identifier"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	SentTime         string `json:"sent_time,omitempty"`
}

// AdmissionResponse is the synchronous HTTP response to POST /send-notification/.
type AdmissionResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	admissionCodeOK    = "100.000.000"
	admissionCodeError = "999.999.999"
)

// AdmissionAccepted builds the synchronous acceptance response.
func AdmissionAccepted() AdmissionResponse {
	return AdmissionResponse{Code: admissionCodeOK, Message: "Notification queued successfully"}
}

// AdmissionFailed builds the synchronous failure response.
func AdmissionFailed(message string) AdmissionResponse {
	return AdmissionResponse{Code: admissionCodeError, Message: message}
}

// BelioDeliveryReport is the payload posted to /belio-sms-callback/.
type BelioDeliveryReport struct {
	DeliveryStatus string `json:"deliveryStatus"`
	Correlator     string `json:"correlator"`
	Timestamp      string `json:"timestamp"`
}

// belioDelivered is the single success status the Belio callback reports.
const belioDelivered = "DeliveredToTerminal"
