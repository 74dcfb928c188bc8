// Package notify delivers anomalous-login alerts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/travelmate/authgate"
)

// SMTPConfig is the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// SMTPNotifier emails the principal about a login from a new origin.
type SMTPNotifier struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{config: cfg, send: smtp.SendMail}
}

// NotifyAnomalousLogin implements [authgate.Notifier]. net/smtp has no
// context support, so a cancelled ctx is only honoured before sending.
func (n *SMTPNotifier) NotifyAnomalousLogin(ctx context.Context, alert authgate.AnomalyAlert) error {
	if alert.Email == "" {
		return fmt.Errorf("notify: principal %s has no email", alert.PrincipalID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := n.config.From
	if n.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.config.FromName, n.config.From)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, alert.Email, "New sign-in to your TravelMate account", Body(alert))

	var auth smtp.Auth
	if n.config.User != "" {
		auth = smtp.PlainAuth("", n.config.User, n.config.Password, n.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	return n.send(addr, auth, n.config.From, []string{alert.Email}, []byte(msg))
}

// Body renders the plain-text alert.
func Body(alert authgate.AnomalyAlert) string {
	name := alert.Name
	if name == "" {
		name = "traveler"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	b.WriteString("We noticed a sign-in to your account from a new location.\r\n\r\n")
	fmt.Fprintf(&b, "Time:     %s\r\n", alert.At.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "IP:       %s\r\n", alert.OriginIP)
	fmt.Fprintf(&b, "Location: %s\r\n", alert.Location)
	if alert.UserAgent != "" {
		fmt.Fprintf(&b, "Device:   %s\r\n", alert.UserAgent)
	}
	b.WriteString("\r\nIf this was you, no action is needed. Otherwise, change your password and sign out of all devices.\r\n")
	return b.String()
}

// LogNotifier writes alerts to a logger. It never fails.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyAnomalousLogin(ctx context.Context, alert authgate.AnomalyAlert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelWarn, "anomalous login",
		slog.String("principal_id", alert.PrincipalID),
		slog.String("ip", alert.OriginIP),
		slog.String("location", alert.Location),
		slog.Time("at", alert.At),
	)
	return nil
}
