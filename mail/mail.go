// Package mail sends operator notifications.
package mail

import (
	"bytes"
	"net/smtp"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"
	"github.com/valyala/fasttemplate"

	"github.com/pharmbio/taca/config"
)

const subjectTemplate = "{{prefix}} - {{target}}"

// Sender is what components need to notify the operator
type Sender interface {
	Subject(target string) string
	Send(subject, body string) error
}

// Mailer sends plain text mails through an SMTP relay
type Mailer struct {
	Server     string
	Port       int
	From       string
	Recipients []string
	Prefix     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New returns a Mailer for the mail section of cfg
func New(cfg config.MailConfig) *Mailer {
	return &Mailer{
		Server:     cfg.Server,
		Port:       cfg.Port,
		From:       cfg.Sender,
		Recipients: cfg.Recipients,
		Prefix:     cfg.Prefix,
		send:       smtp.SendMail,
	}
}

// Subject formats the subject line for a run, or for this host when run is
// empty
func (m *Mailer) Subject(run string) string {
	if run == "" {
		run, _ = os.Hostname()
	}
	t := fasttemplate.New(subjectTemplate, "{{", "}}")
	return t.ExecuteString(map[string]interface{}{
		"prefix": m.Prefix,
		"target": run,
	})
}

// Send sends body to all recipients. The subject is used as given; build it
// with Subject.
func (m *Mailer) Send(subject, body string) error {
	if len(m.Recipients) == 0 {
		return errors.New("no mail recipients configured")
	}
	var msg bytes.Buffer
	msg.WriteString("From: " + m.From + "\r\n")
	msg.WriteString("To: " + strings.Join(m.Recipients, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := m.Server + ":" + strconv.Itoa(m.Port)
	if err := m.send(addr, nil, m.From, m.Recipients, msg.Bytes()); err != nil {
		return errors.Wrapf(err, "could not send mail %q via %s", subject, addr)
	}
	sp.Info.Printf("Sent mail %q to %s\n", subject, strings.Join(m.Recipients, ", "))
	return nil
}

// Render fills a {{name}} style body template
func Render(tmpl string, vars map[string]interface{}) string {
	return fasttemplate.New(tmpl, "{{", "}}").ExecuteString(vars)
}

// Discard drops every mail. Used when no mail section is configured.
type Discard struct{}

func (Discard) Subject(target string) string { return target }

func (Discard) Send(subject, body string) error {
	sp.Warning.Printf("No mail configured, dropping mail %q\n", subject)
	return nil
}
