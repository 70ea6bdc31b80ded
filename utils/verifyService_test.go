package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer verify-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyClient(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{name: "deliverable flag", status: 200, body: `{"deliverable":true}`, want: true},
		{name: "undeliverable flag", status: 200, body: `{"deliverable":false}`, want: false},
		{name: "result verdict", status: 200, body: `{"result":"undeliverable"}`, want: false},
		{name: "risky still sends", status: 200, body: `{"result":"risky"}`, want: true},
		{name: "empty verdict", status: 200, body: `{}`, wantErr: true},
		{name: "server error", status: 503, body: `{}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := verifyServer(t, tc.status, tc.body)
			client := NewVerifyClient(srv.URL, "verify-key")

			ok, err := client.Verify(context.Background(), "lead@academy.test")
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}
