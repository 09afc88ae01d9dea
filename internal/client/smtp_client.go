package client

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"

	"go.uber.org/zap"

	"shop-auth-service/internal/config"
	"shop-auth-service/internal/util"
)

// Mailer dispatches templated transactional mail.
type Mailer interface {
	Send(to, subject, templateID string, vars map[string]string) error
}

// Template ids used by the account flows.
const (
	TemplateUserActivation   = "user-activation-mail"
	TemplateSellerActivation = "seller-activation-mail"
	TemplateForgotPassword   = "forgot-password-mail"
)

var mailTemplates = map[string]*template.Template{
	TemplateUserActivation: template.Must(template.New(TemplateUserActivation).Parse(
		"Hello {{.name}},\r\n\r\nYour verification code is {{.otp}}. It expires in 5 minutes.\r\n\r\nIf you didn't request this, you can ignore this email.\r\n")),
	TemplateSellerActivation: template.Must(template.New(TemplateSellerActivation).Parse(
		"Hello {{.name}},\r\n\r\nUse {{.otp}} to verify your seller account. The code expires in 5 minutes.\r\n")),
	TemplateForgotPassword: template.Must(template.New(TemplateForgotPassword).Parse(
		"Hello {{.name}},\r\n\r\nUse {{.otp}} to reset your password. The code expires in 5 minutes.\r\n\r\nIf you didn't request a reset, no action is needed.\r\n")),
}

type SMTPClient struct {
	host     string
	port     string
	from     string
	username string
	password string
	logger   *zap.Logger
}

func NewSMTPClient(cfg *config.Config, logger *zap.Logger) *SMTPClient {
	return &SMTPClient{
		host:     cfg.SMTP.Host,
		port:     cfg.SMTP.Port,
		from:     cfg.SMTP.From,
		username: cfg.SMTP.Username,
		password: cfg.SMTP.Password,
		logger:   logger,
	}
}

// Send renders the named template with vars and delivers it
func (m *SMTPClient) Send(to, subject, templateID string, vars map[string]string) error {
	tmpl, ok := mailTemplates[templateID]
	if !ok {
		return fmt.Errorf("unknown mail template: %s", templateID)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, vars); err != nil {
		return fmt.Errorf("failed to render mail template %s: %w", templateID, err)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body.String())
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	util.Debug("Mail dispatched",
		zap.String("template", templateID),
		zap.String("to", to),
	)
	return nil
}
