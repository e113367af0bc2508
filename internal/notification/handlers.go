package notification

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^[1-9]\d{1,14}$`)
)

const smsMaxLength = 160

// ValidateRecipients checks every cleaned recipient against the format rules
// for notificationType. Recipients are expected to already have passed
// through CleanRecipients (SMS numbers with any leading "+" stripped).
func ValidateRecipients(notificationType Type, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients supplied")
	}

	for _, r := range recipients {
		switch notificationType {
		case TypeEmail:
			if !emailPattern.MatchString(r) {
				return fmt.Errorf("invalid email address: %q", r)
			}
		case TypeSMS:
			if !phonePattern.MatchString(r) {
				return fmt.Errorf("invalid phone number: %q", r)
			}
		case TypePush:
			if r == "" {
				return fmt.Errorf("push notification requires a device token")
			}
		default:
			return fmt.Errorf("unsupported notification type: %q", notificationType)
		}
	}
	return nil
}

// ValidateTemplate enforces the per-type template shape: email requires a
// subject, SMS and push require non-empty body content.
func ValidateTemplate(notificationType Type, tmpl *Template) error {
	if tmpl == nil {
		return fmt.Errorf("%s notification requires a template", notificationType)
	}
	switch notificationType {
	case TypeEmail:
		if tmpl.Subject == "" {
			return fmt.Errorf("email template requires a subject")
		}
	case TypeSMS, TypePush:
		if tmpl.Body == "" {
			return fmt.Errorf("%s template requires content", notificationType)
		}
	}
	return nil
}

// PrepareContent renders tmpl against ctx and shapes the result into the
// key set each provider adapter expects. Email carries subject+body, SMS
// enforces the typical 160-character carrier limit and carries the sending
// System's name as sender_id, and push falls back to a generic title when
// ctx doesn't supply one and passes through ctx's data payload.
func PrepareContent(notificationType Type, tmpl *Template, ctx map[string]interface{}, senderID string) (map[string]interface{}, error) {
	body := ""
	if tmpl != nil {
		body = Render(tmpl.Body, ctx)
	}

	switch notificationType {
	case TypeEmail:
		subject := ""
		if tmpl != nil {
			subject = Render(tmpl.Subject, ctx)
		}
		return map[string]interface{}{
			"subject": subject,
			"body":    body,
		}, nil

	case TypeSMS:
		if utf8.RuneCountInString(body) > smsMaxLength {
			return nil, fmt.Errorf("sms content exceeds %d characters", smsMaxLength)
		}
		return map[string]interface{}{
			"sender_id": senderID,
			"body":      body,
		}, nil

	case TypePush:
		title, _ := ctx["title"].(string)
		if title == "" {
			title = "Notification"
		}
		data, _ := ctx["data"].(map[string]interface{})
		if data == nil {
			data = map[string]interface{}{}
		}
		return map[string]interface{}{
			"title": title,
			"body":  body,
			"data":  data,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported notification type: %q", notificationType)
	}
}
