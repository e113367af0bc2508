package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/irfndi/notifybus/internal/notification/status"
	sentrypkg "github.com/irfndi/notifybus/internal/sentry"
)

// ErrNotFound is returned when a lookup by name or id matches no row.
var ErrNotFound = errors.New("notification: not found")

// ErrConflict is returned when a unique constraint is violated on insert.
// unique_identifier is not a dedup key; repeated admissions create new rows.
var ErrConflict = errors.New("notification: conflict")

// IsConflictError reports whether err is (or wraps) ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Store is the config-and-ledger persistence boundary the Dispatch Engine
// depends on. PostgresStore is the only production implementation; tests
// may substitute a fake.
type Store interface {
	GetSystemByName(ctx context.Context, name string) (*System, error)
	GetSystemByID(ctx context.Context, id uuid.UUID) (*System, error)
	GetOrganisationByName(ctx context.Context, systemID uuid.UUID, name string) (*Organisation, error)
	GetTemplateByName(ctx context.Context, notificationType Type, name string) (*Template, error)
	GetTemplateByID(ctx context.Context, id uuid.UUID) (*Template, error)
	ListActiveProvidersByType(ctx context.Context, notificationType Type) ([]*Provider, error)

	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	UpdateNotificationStatus(ctx context.Context, id uuid.UUID, newStatus status.State, providerID *uuid.UUID, sentTime *time.Time, message string) (*Notification, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error)
}

// PostgresStore implements Store over database/sql + lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetSystemByName looks up a tenant by its (lowercased) unique name.
func (s *PostgresStore) GetSystemByName(ctx context.Context, name string) (*System, error) {
	query := `
		SELECT id, name, email_signature, sms_signature, default_from_email,
			callback_type, webhook_url, webhook_auth_token, queue_name,
			created_at, updated_at
		FROM systems
		WHERE lower(name) = lower($1)
	`

	var sys System
	var webhookURL, webhookAuthToken, queueName, emailSig, smsSig, fromEmail sql.NullString

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&sys.ID, &sys.Name, &emailSig, &smsSig, &fromEmail,
		&sys.CallbackType, &webhookURL, &webhookAuthToken, &queueName,
		&sys.CreatedAt, &sys.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_system_by_name", query, err)
	}

	sys.EmailSignature = emailSig.String
	sys.SMSSignature = smsSig.String
	sys.DefaultFromEmail = fromEmail.String
	sys.WebhookURL = webhookURL.String
	sys.WebhookAuthToken = webhookAuthToken.String
	sys.QueueName = queueName.String

	return &sys, nil
}

// GetSystemByID looks up a tenant by primary key, used at send time when the
// engine only has the notification's stored system_id on hand.
func (s *PostgresStore) GetSystemByID(ctx context.Context, id uuid.UUID) (*System, error) {
	query := `
		SELECT id, name, email_signature, sms_signature, default_from_email,
			callback_type, webhook_url, webhook_auth_token, queue_name,
			created_at, updated_at
		FROM systems
		WHERE id = $1
	`

	var sys System
	var webhookURL, webhookAuthToken, queueName, emailSig, smsSig, fromEmail sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sys.ID, &sys.Name, &emailSig, &smsSig, &fromEmail,
		&sys.CallbackType, &webhookURL, &webhookAuthToken, &queueName,
		&sys.CreatedAt, &sys.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_system_by_id", query, err)
	}

	sys.EmailSignature = emailSig.String
	sys.SMSSignature = smsSig.String
	sys.DefaultFromEmail = fromEmail.String
	sys.WebhookURL = webhookURL.String
	sys.WebhookAuthToken = webhookAuthToken.String
	sys.QueueName = queueName.String

	return &sys, nil
}

// GetOrganisationByName looks up a sub-tenant scoped to systemID.
func (s *PostgresStore) GetOrganisationByName(ctx context.Context, systemID uuid.UUID, name string) (*Organisation, error) {
	query := `
		SELECT id, name, system_id, created_at, updated_at
		FROM organisations
		WHERE system_id = $1 AND lower(name) = lower($2)
	`

	var org Organisation
	err := s.db.QueryRowContext(ctx, query, systemID, name).Scan(
		&org.ID, &org.Name, &org.SystemID, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_organisation_by_name", query, err)
	}
	return &org, nil
}

// GetTemplateByName looks up an active template scoped to notificationType.
func (s *PostgresStore) GetTemplateByName(ctx context.Context, notificationType Type, name string) (*Template, error) {
	query := `
		SELECT id, name, type, subject, body, is_active, created_at, updated_at
		FROM templates
		WHERE type = $1 AND lower(name) = lower($2) AND is_active = true
	`

	var tmpl Template
	var subject sql.NullString
	err := s.db.QueryRowContext(ctx, query, notificationType, name).Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Type, &subject, &tmpl.Body, &tmpl.IsActive,
		&tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_template_by_name", query, err)
	}
	tmpl.Subject = subject.String
	return &tmpl, nil
}

// GetTemplateByID looks up a template by primary key, used at send time via
// the notification's stored template_id.
func (s *PostgresStore) GetTemplateByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `
		SELECT id, name, type, subject, body, is_active, created_at, updated_at
		FROM templates
		WHERE id = $1
	`

	var tmpl Template
	var subject sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Type, &subject, &tmpl.Body, &tmpl.IsActive,
		&tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_template_by_id", query, err)
	}
	tmpl.Subject = subject.String
	return &tmpl, nil
}

// ListActiveProvidersByType returns active providers for notificationType,
// ordered by priority ascending with nulls last, then by created_at
// descending — the order the Dispatch Engine walks for fan-out.
func (s *PostgresStore) ListActiveProvidersByType(ctx context.Context, notificationType Type) ([]*Provider, error) {
	query := `
		SELECT id, name, type, config, priority, is_active, class_name, created_at, updated_at
		FROM providers
		WHERE type = $1 AND is_active = true
		ORDER BY priority ASC NULLS LAST, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, notificationType)
	if err != nil {
		return nil, sentrypkg.WrapDBError(ctx, "list_active_providers", query, err)
	}
	defer func() { _ = rows.Close() }()

	var providers []*Provider
	for rows.Next() {
		var p Provider
		var configBytes []byte
		var priority sql.NullInt64

		if err := rows.Scan(
			&p.ID, &p.Name, &p.Type, &configBytes, &priority, &p.IsActive,
			&p.ClassName, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}

		if err := json.Unmarshal(configBytes, &p.Config); err != nil {
			return nil, fmt.Errorf("unmarshal provider config: %w", err)
		}
		if priority.Valid {
			v := int(priority.Int64)
			p.Priority = &v
		}

		providers = append(providers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}

	return providers, nil
}

// CreateNotification persists a new ledger entry in Pending status.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	if n.Status == "" {
		n.Status = status.Pending
	}

	contextBytes, err := json.Marshal(n.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, system_id, organisation_id, unique_identifier, type, recipients,
			template_id, context, provider_id, sent_time, status, message,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.SystemID, n.OrganisationID, n.UniqueIdentifier, n.Type, pq.Array(n.Recipients),
		n.TemplateID, contextBytes, n.ProviderID, n.SentTime, n.Status, n.Message,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return sentrypkg.WrapDBError(ctx, "insert_notification", query, err)
	}
	return nil
}

// GetNotification fetches the ledger entry by id.
func (s *PostgresStore) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT id, system_id, organisation_id, unique_identifier, type, recipients,
			template_id, context, provider_id, sent_time, status, message,
			created_at, updated_at
		FROM notifications
		WHERE id = $1
	`

	n, err := s.scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "get_notification", query, err)
	}
	return n, nil
}

// UpdateNotificationStatus transitions a notification's status and records
// its terminal/confirmation-pending outcome fields. message is written as
// given; the engine passes an empty message for non-failure outcomes.
func (s *PostgresStore) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, newStatus status.State, providerID *uuid.UUID, sentTime *time.Time, message string) (*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $2, provider_id = COALESCE($3, provider_id), sent_time = COALESCE($4, sent_time),
			message = $5, updated_at = $6
		WHERE id = $1
		RETURNING id, system_id, organisation_id, unique_identifier, type, recipients,
			template_id, context, provider_id, sent_time, status, message,
			created_at, updated_at
	`

	n, err := s.scanNotification(s.db.QueryRowContext(ctx, query, id, newStatus, providerID, sentTime, message, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, sentrypkg.WrapDBError(ctx, "update_notification_status", query, err)
	}
	return n, nil
}

// ListStalePending returns notifications still Pending past olderThan, used
// by the reconcile sweep to re-promote jobs a crashed worker dropped.
func (s *PostgresStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error) {
	query := `
		SELECT id, system_id, organisation_id, unique_identifier, type, recipients,
			template_id, context, provider_id, sent_time, status, message,
			created_at, updated_at
		FROM notifications
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, status.Pending, olderThan, limit)
	if err != nil {
		return nil, sentrypkg.WrapDBError(ctx, "list_stale_pending", query, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Notification
	for rows.Next() {
		n, err := s.scanNotificationRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var contextBytes []byte
	var recipients pq.StringArray
	var organisationID, templateID, providerID uuid.NullUUID
	var sentTime sql.NullTime
	var message sql.NullString

	if err := row.Scan(
		&n.ID, &n.SystemID, &organisationID, &n.UniqueIdentifier, &n.Type, &recipients,
		&templateID, &contextBytes, &providerID, &sentTime, &n.Status, &message,
		&n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}

	n.Recipients = []string(recipients)
	if organisationID.Valid {
		n.OrganisationID = &organisationID.UUID
	}
	if templateID.Valid {
		n.TemplateID = &templateID.UUID
	}
	if providerID.Valid {
		n.ProviderID = &providerID.UUID
	}
	if sentTime.Valid {
		n.SentTime = &sentTime.Time
	}
	n.Message = message.String

	if len(contextBytes) > 0 {
		if err := json.Unmarshal(contextBytes, &n.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}

	return &n, nil
}

func (s *PostgresStore) scanNotificationRows(rows *sql.Rows) (*Notification, error) {
	return s.scanNotification(rows)
}

// isUniqueViolation checks if err is a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// normalizeName lowercases and trims a tenant-supplied identifier before it
// is used for a case-folded lookup.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
