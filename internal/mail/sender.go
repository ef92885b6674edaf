// Package mail delivers account notifications.
package mail

import "log/slog"

type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
	IsHTML  bool
}

type MailSender interface {
	Send(message *Message) error
}

// LogMailSender writes messages to the log instead of delivering them.
type LogMailSender struct{}

func (LogMailSender) Send(message *Message) error {
	slog.Info("Mail not delivered, log backend", "to", message.To, "subject", message.Subject)
	slog.Debug(message.Body)
	return nil
}
