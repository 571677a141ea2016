package mail

import (
	"bytes"
	"context"
	"embed"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

// ChangedAtLayout renders the time of a password change.
const ChangedAtLayout = "02/01/2006 às 15:04"

const (
	subjectReset   = "Recuperação de Senha"
	subjectChanged = "Senha Alterada"
)

// Notifier renders the password emails and hands them to a Mailer.
type Notifier struct {
	mailer      Mailer
	frontendURL string
	appName     string
}

func NewNotifier(m Mailer, frontendURL, appName string) *Notifier {
	return &Notifier{mailer: m, frontendURL: frontendURL, appName: appName}
}

// ResetLink is the frontend page that consumes a reset token.
func (n *Notifier) ResetLink(token string) string {
	return n.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

func (n *Notifier) PasswordReset(ctx context.Context, to, name, token string, ttl time.Duration) error {
	hours := int(ttl.Hours())
	if hours < 1 {
		hours = 1
	}
	data := struct {
		Name, Link, AppName string
		Hours               int
	}{name, n.ResetLink(token), n.appName, hours}
	msg, err := render(to, subjectReset, "password_reset", data)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func (n *Notifier) PasswordChanged(ctx context.Context, to, name string, at time.Time) error {
	data := struct{ Name, ChangedAt, AppName string }{name, at.UTC().Format(ChangedAtLayout), n.appName}
	msg, err := render(to, subjectChanged, "password_changed", data)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func render(to, subject, name string, data any) (Message, error) {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, err
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}
