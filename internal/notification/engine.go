package notification

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/irfndi/notifybus/internal/errors"
	"github.com/irfndi/notifybus/internal/notification/providers"
	"github.com/irfndi/notifybus/internal/notification/status"
)

// ProviderRegistry builds a provider adapter from a Provider row's
// class_name and config. *providers.Registry satisfies this; tests can
// substitute a fake.
type ProviderRegistry interface {
	Build(className string, config map[string]interface{}) (providers.Adapter, error)
}

// Engine ties the config store, the provider registry, and the callback
// emitter together into the two operations the rest of the system drives:
// admitting a request into the ledger, and walking active providers until
// one reports success.
type Engine struct {
	store     Store
	registry  ProviderRegistry
	callbacks *CallbackEmitter
	logger    *log.Logger
}

// NewEngine wires a Store, provider Registry, and CallbackEmitter together.
func NewEngine(store Store, registry ProviderRegistry, callbacks *CallbackEmitter, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: store, registry: registry, callbacks: callbacks, logger: logger}
}

// SaveNotification validates an admission request against the config store
// and persists it as a Pending ledger entry. On any validation failure it
// emits a synchronous "failed" callback to the system (if it resolved) and
// returns the error without creating a row.
func (e *Engine) SaveNotification(ctx context.Context, req AdmissionRequest) (*Notification, error) {
	systemName := normalizeName(req.System)
	notificationType := Type(normalizeName(req.NotificationType))

	sys, err := e.store.GetSystemByName(ctx, systemName)
	if err != nil {
		return nil, apperrors.NewUnknownReferenceError("system", req.System)
	}

	var orgID *uuid.UUID
	if req.Organisation != "" {
		org, err := e.store.GetOrganisationByName(ctx, sys.ID, normalizeName(req.Organisation))
		if err != nil {
			unknown := apperrors.NewUnknownReferenceError("organisation", req.Organisation)
			e.failAdmission(ctx, sys, req, unknown)
			return nil, unknown
		}
		orgID = &org.ID
	}

	if notificationType != TypeEmail && notificationType != TypeSMS && notificationType != TypePush {
		badReq := apperrors.NewBadRequestError("unsupported notification_type: " + req.NotificationType)
		e.failAdmission(ctx, sys, req, badReq)
		return nil, badReq
	}

	if req.Context == nil {
		badReq := apperrors.NewBadRequestError("context is required")
		e.failAdmission(ctx, sys, req, badReq)
		return nil, badReq
	}

	recipients := CleanRecipients(notificationType, SplitRecipients(req.Recipients))
	if err := ValidateRecipients(notificationType, recipients); err != nil {
		badReq := apperrors.NewBadRequestError(err.Error())
		e.failAdmission(ctx, sys, req, badReq)
		return nil, badReq
	}

	var templateID *uuid.UUID
	if req.Template != "" {
		tmpl, err := e.store.GetTemplateByName(ctx, notificationType, normalizeName(req.Template))
		if err != nil {
			unknown := apperrors.NewUnknownReferenceError("template", req.Template)
			e.failAdmission(ctx, sys, req, unknown)
			return nil, unknown
		}
		templateID = &tmpl.ID
	}

	n := &Notification{
		SystemID:         sys.ID,
		OrganisationID:   orgID,
		UniqueIdentifier: req.UniqueIdentifier,
		Type:             notificationType,
		Recipients:       recipients,
		TemplateID:       templateID,
		Context:          req.Context,
		Status:           status.Pending,
	}

	if err := e.store.CreateNotification(ctx, n); err != nil {
		internal := apperrors.NewInternalError("notification not created", err)
		e.failAdmission(ctx, sys, req, internal)
		return nil, internal
	}

	return n, nil
}

func (e *Engine) failAdmission(ctx context.Context, sys *System, req AdmissionRequest, cause error) {
	if sys == nil {
		return
	}
	e.callbacks.Send(ctx, sys, CallbackPayload{
		UniqueIdentifier: req.UniqueIdentifier,
		Status:           "failed",
		Message:          cause.Error(),
	})
}

// SendNotification resolves the notification's template and active
// providers, renders content once, and walks providers in priority order
// until one reports anything other than Failed. It persists the outcome and
// emits the tenant callback. It returns an error when every active provider
// failed or none were configured, when the template, system or provider
// list cannot be resolved, when content preparation fails, or when the
// status update cannot be persisted.
func (e *Engine) SendNotification(ctx context.Context, n *Notification) error {
	var tmpl *Template
	if n.TemplateID != nil {
		t, err := e.store.GetTemplateByID(ctx, *n.TemplateID)
		if err != nil {
			return e.markFailed(ctx, n, apperrors.NewUnknownReferenceError("template", n.TemplateID.String()))
		}
		tmpl = t
	}

	if err := ValidateTemplate(n.Type, tmpl); err != nil {
		return e.markFailed(ctx, n, apperrors.NewBadRequestError(err.Error()))
	}

	activeProviders, err := e.store.ListActiveProvidersByType(ctx, n.Type)
	if err != nil {
		return e.markFailed(ctx, n, apperrors.NewInternalError("listing providers failed", err))
	}
	if len(activeProviders) == 0 {
		return e.markFailed(ctx, n, apperrors.NewNoActiveProvidersError(string(n.Type)))
	}

	sys, err := e.store.GetSystemByID(ctx, n.SystemID)
	if err != nil {
		return e.markFailed(ctx, n, apperrors.NewUnknownReferenceError("system", n.SystemID.String()))
	}

	content, err := PrepareContent(n.Type, tmpl, n.Context, sys.Name)
	if err != nil {
		return e.markFailed(ctx, n, apperrors.NewBadRequestError(err.Error()))
	}
	content["notification_id"] = n.ID.String()

	for _, provider := range activeProviders {
		adapter, err := e.registry.Build(provider.ClassName, provider.Config)
		if err != nil {
			e.logger.Printf("engine: unknown provider class %q for provider %q: %v", provider.ClassName, provider.Name, err)
			continue
		}
		if !adapter.ValidateConfig() {
			e.logger.Printf("engine: invalid configuration for provider %q", provider.Name)
			continue
		}

		outcome := adapter.Send(ctx, n.Recipients, content)
		if outcome == status.Failed {
			e.logger.Printf("engine: send failed for provider %q, trying next", provider.Name)
			continue
		}

		return e.markOutcome(ctx, n, outcome, provider.ID)
	}

	return e.markFailedWithMessage(ctx, n, apperrors.NewProviderTransportError(string(n.Type), nil), "Notification not sent")
}

func (e *Engine) markOutcome(ctx context.Context, n *Notification, outcome status.State, providerID uuid.UUID) error {
	var sentTime *time.Time
	if outcome == status.Sent {
		now := time.Now().UTC()
		sentTime = &now
	}

	updated, err := e.store.UpdateNotificationStatus(ctx, n.ID, outcome, &providerID, sentTime, "")
	if err != nil {
		return apperrors.NewInternalError("notification status not updated", err)
	}

	e.emitStatusCallback(ctx, updated)
	return nil
}

func (e *Engine) markFailed(ctx context.Context, n *Notification, cause error) error {
	return e.markFailedWithMessage(ctx, n, cause, cause.Error())
}

// markFailedWithMessage is markFailed with an explicit ledger/callback
// message, used where the documented callback wording ("Notification not
// sent") doesn't match the underlying AppError's code-prefixed Error().
func (e *Engine) markFailedWithMessage(ctx context.Context, n *Notification, cause error, message string) error {
	updated, err := e.store.UpdateNotificationStatus(ctx, n.ID, status.Failed, nil, nil, message)
	if err != nil {
		return apperrors.NewInternalError("notification status not updated", err)
	}
	e.emitStatusCallback(ctx, updated)
	return cause
}

func (e *Engine) emitStatusCallback(ctx context.Context, n *Notification) {
	sys, err := e.store.GetSystemByID(ctx, n.SystemID)
	if err != nil {
		e.logger.Printf("engine: callback skipped, system %s not found: %v", n.SystemID, err)
		return
	}

	payload := CallbackPayload{
		NotificationID:   n.ID.String(),
		UniqueIdentifier: n.UniqueIdentifier,
		Status:           string(n.Status),
		Message:          n.Message,
	}
	if (n.Status == status.Sent || n.Status == status.ConfirmationPending) && n.SentTime != nil {
		payload.SentTime = n.SentTime.Format(time.RFC3339)
	}

	e.callbacks.Send(ctx, sys, payload)
}
