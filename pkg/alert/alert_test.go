package alert

import (
	"bytes"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsAlerter(t *testing.T) {
	_, ok := New(config.AlertConfig{}, nil).(*LogAlerter)
	assert.True(t, ok)

	_, ok = New(config.AlertConfig{Enabled: true, SMTPHost: "mail", To: []string{"ops@example.com"}}, nil).(*EmailAlerter)
	assert.True(t, ok)

	_, ok = New(config.AlertConfig{Enabled: true}, nil).(*LogAlerter)
	assert.True(t, ok, "enabled without a host falls back to logging")
}

func TestEmailAlerterSends(t *testing.T) {
	a := NewEmailAlerter(config.AlertConfig{
		Enabled: true, SMTPHost: "mail.example.com", SMTPPort: 587,
		From: "chronograph@example.com", To: []string{"ops@example.com", "oncall@example.com"},
	})
	var gotAddr string
	var gotMsg []byte
	a.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		assert.Equal(t, "chronograph@example.com", from)
		assert.Len(t, to, 2)
		return nil
	}

	require.NoError(t, a.Alert("breaker open", "extraction is failing"))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.True(t, strings.Contains(string(gotMsg), "Subject: breaker open"))
	assert.True(t, strings.Contains(string(gotMsg), "extraction is failing"))

	a.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("dial failed") }
	assert.ErrorContains(t, a.Alert("x", "y"), "dial failed")
}

func TestEmailAlerterDisabled(t *testing.T) {
	a := NewEmailAlerter(config.AlertConfig{})
	a.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("disabled alerter must not send")
		return nil
	}
	assert.NoError(t, a.Alert("x", "y"))
}

func TestLogAlerter(t *testing.T) {
	var buf bytes.Buffer
	a := NewLogAlerter(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, a.Alert("breaker open", "too many failures"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "too many failures")

	assert.NoError(t, (&NoOpAlerter{}).Alert("x", "y"))
}
