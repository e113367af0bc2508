package providers

import (
	"context"
	"log"
	"regexp"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/irfndi/notifybus/internal/notification/status"
)

var gmailRequiredKeys = []string{"host", "port", "sender", "password"}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// GmailSMTPServer delivers email over STARTTLS + AUTH LOGIN. It sends
// from/to/cc/bcc, picks HTML vs. plain text body by sniffing for tags, and
// attaches files by path.
type GmailSMTPServer struct {
	config map[string]interface{}
}

// NewGmailSMTPServer satisfies providers.Constructor.
func NewGmailSMTPServer(config map[string]interface{}) Adapter {
	return &GmailSMTPServer{config: config}
}

// ValidateConfig checks for host, port, sender, password.
func (g *GmailSMTPServer) ValidateConfig() bool {
	missing := missingKeys(g.config, gmailRequiredKeys)
	if len(missing) > 0 {
		log.Printf("GmailSMTPServer: missing config keys: %s", strings.Join(missing, ", "))
		return false
	}
	return true
}

// Send composes and dials an email. content keys: subject, body, from_address
// (optional, falls back to the config's sender), reply_to, cc, bcc,
// attachment (a list of file paths).
func (g *GmailSMTPServer) Send(_ context.Context, recipients []string, content map[string]interface{}) status.State {
	host, _ := stringField(g.config, "host")
	port, _ := intField(g.config, "port")
	sender, _ := stringField(g.config, "sender")
	password, _ := stringField(g.config, "password")

	from, ok := stringField(content, "from_address")
	if !ok || from == "" {
		from = sender
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", recipients...)
	if replyTo, ok := stringField(content, "reply_to"); ok && replyTo != "" {
		m.SetHeader("Reply-To", replyTo)
	}
	if subject, ok := stringField(content, "subject"); ok {
		m.SetHeader("Subject", subject)
	}

	if cc := stringSliceField(content, "cc"); len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	if bcc := stringSliceField(content, "bcc"); len(bcc) > 0 {
		m.SetHeader("Bcc", bcc...)
	}

	body, _ := stringField(content, "body")
	if htmlTagPattern.MatchString(body) {
		m.SetBody("text/html", body)
	} else {
		m.SetBody("text/plain", body)
	}

	for _, path := range stringSliceField(content, "attachment") {
		m.Attach(path)
	}

	d := gomail.NewDialer(host, port, sender, password)
	if err := d.DialAndSend(m); err != nil {
		log.Printf("GmailSMTPServer: send exception: %v", err)
		return status.Failed
	}
	return status.Sent
}

// stringSliceField reads content[key] as either a []string, a
// comma-separated string, or a []interface{} of strings.
func stringSliceField(content map[string]interface{}, key string) []string {
	v, ok := content[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
