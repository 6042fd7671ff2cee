// Package email delivers notification events over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/smallbiznis/faktur/internal/config"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

var bodyTemplate = template.Must(template.New("notification").Parse(`<html><body>
<p>{{ .Subject }}</p>
<table>
{{- range $key, $value := .Data }}
<tr><td>{{ $key }}</td><td>{{ $value }}</td></tr>
{{- end }}
</table>
</body></html>`))

type Dispatcher struct {
	cfg Config
	log *zap.Logger
}

func NewSMTP(cfg Config, log *zap.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, log: log.Named("notification.email")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event notifdomain.Event) error {
	if event.Recipient == "" {
		return nil
	}

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, event); err != nil {
		return fmt.Errorf("render notification body: %w", err)
	}

	auth := smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	addr := fmt.Sprintf("%s:%s", d.cfg.Host, d.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", event.Recipient, event.Subject, mime, body.String()))

	if err := smtp.SendMail(addr, auth, d.cfg.From, []string{event.Recipient}, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	d.log.Info("notification sent",
		zap.String("type", string(event.Type)),
		zap.Int64("org_id", int64(event.OrgID)),
	)
	return nil
}

// Noop drops every event. Used when SMTP is not configured and in tests.
type Noop struct{}

func (Noop) Dispatch(ctx context.Context, event notifdomain.Event) error { return nil }

func NewFromConfig(cfg config.Config, log *zap.Logger) notifdomain.Dispatcher {
	if cfg.SMTPHost == "" {
		return Noop{}
	}
	return NewSMTP(Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, log)
}

var Module = fx.Module("notification",
	fx.Provide(NewFromConfig),
)
