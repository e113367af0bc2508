package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/irfndi/notifybus/internal/errors"
	"github.com/irfndi/notifybus/internal/notification/status"
)

// ApplyDeliveryReport resolves a notification left in ConfirmationPending by
// a provider that only confirms submission synchronously (BelioSMSProvider).
// The correlator is the notification id the provider was asked to echo back
// in its own delivery-report callback.
func (e *Engine) ApplyDeliveryReport(ctx context.Context, report BelioDeliveryReport) error {
	notificationID, err := uuid.Parse(report.Correlator)
	if err != nil {
		return apperrors.NewBadRequestError("correlator is not a valid notification id")
	}

	n, err := e.store.GetNotification(ctx, notificationID)
	if err != nil {
		return apperrors.NewUnknownReferenceError("notification", report.Correlator)
	}

	if n.Status != status.ConfirmationPending {
		return apperrors.NewBadRequestError(fmt.Sprintf("notification %s is not awaiting a delivery report", notificationID))
	}

	outcome := status.Failed
	if report.DeliveryStatus == belioDelivered {
		outcome = status.Sent
	}

	var sentTime *time.Time
	message := ""
	if outcome == status.Sent {
		sentTime = resolveReportTime(report.Timestamp)
	} else {
		message = fmt.Sprintf("delivery report status: %s", report.DeliveryStatus)
	}

	updated, err := e.store.UpdateNotificationStatus(ctx, n.ID, outcome, n.ProviderID, sentTime, message)
	if err != nil {
		return apperrors.NewInternalError("notification status not updated", err)
	}

	e.emitStatusCallback(ctx, updated)
	return nil
}

// resolveReportTime parses the provider's reported timestamp, falling back
// to now if it is absent or malformed.
func resolveReportTime(raw string) *time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return &t
		}
	}
	now := time.Now().UTC()
	return &now
}
