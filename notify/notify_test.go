package notify

import (
	"bytes"
	"context"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/travelmate/authgate"
)

func testAlert() authgate.AnomalyAlert {
	return authgate.AnomalyAlert{
		PrincipalID: "u-1",
		Email:       "ana@example.com",
		Name:        "Ana",
		OriginIP:    "203.0.113.9",
		Location:    authgate.UnknownLocation,
		At:          time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestSMTPNotifierSendsToPrincipal(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 2525, From: "no-reply@travelmate.app", FromName: "TravelMate"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := n.NotifyAnomalousLogin(context.Background(), testAlert()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAddr != "mail.local:2525" || len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Fatalf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	for _, want := range []string{"From: TravelMate <no-reply@travelmate.app>", "203.0.113.9", "Unknown Location", "Hi Ana"} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSMTPNotifierRejectsMissingEmail(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	a := testAlert()
	a.Email = ""
	if err := n.NotifyAnomalousLogin(context.Background(), a); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.NotifyAnomalousLogin(context.Background(), testAlert()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(buf.String(), `"principal_id":"u-1"`) {
		t.Fatalf("unexpected log %s", buf.String())
	}
}
