package utils

import (
	"academy/automation"
	"academy/config"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSendGridMailerSend(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSendGridMailer("sg-key", "team@academy.test", "Academy", zaptest.NewLogger(t))
	m.host = srv.URL

	err := m.Send(context.Background(), automation.Email{
		To:      "lead@academy.test",
		ToName:  "Lead",
		Subject: "You're in",
		HTML:    "<p>Hello <b>Lead</b></p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sg-key", gotAuth)
	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Contains(t, string(gotBody), "lead@academy.test")
	assert.Contains(t, string(gotBody), "You're in")
	assert.Contains(t, string(gotBody), "team@academy.test")
}

func TestSendGridMailerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad from"}]}`))
	}))
	defer srv.Close()

	m := NewSendGridMailer("sg-key", "team@academy.test", "Academy", zaptest.NewLogger(t))
	m.host = srv.URL

	err := m.Send(context.Background(), automation.Email{To: "lead@academy.test", Subject: "x", HTML: "<p>x</p>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNewMailerFallsBackToLog(t *testing.T) {
	log := zaptest.NewLogger(t)

	m := NewMailer(&config.Config{}, log)
	assert.IsType(t, &LogMailer{}, m)
	assert.NoError(t, m.Send(context.Background(), automation.Email{To: "a@academy.test"}))

	m = NewMailer(&config.Config{SendGridAPIKey: "k", EmailSender: "team@academy.test"}, log)
	assert.IsType(t, &SendGridMailer{}, m)
}

func TestPlainText(t *testing.T) {
	got := plainText("<div>\n  <h1>Welcome</h1>\n\n\n  <p>Start   <a href=\"x\">here</a></p>\n</div>")
	assert.Equal(t, "Welcome\n\nStart here", got)
}
