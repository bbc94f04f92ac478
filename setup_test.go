package main

import (
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

var jsonHeader = http.Header{"Content-Type": {"application/json"}}

func mockedSetupClient(t *testing.T) *resty.Client {
	t.Helper()
	client := newSetupClient()
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestValidateTelegramToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"valid", http.StatusOK, `{"ok": true}`, ""},
		{"rejected with description", http.StatusUnauthorized, `{"ok": false, "description": "Unauthorized"}`, "Unauthorized"},
		{"rejected without description", http.StatusNotFound, `{"ok": false}`, "token rejected by Telegram (HTTP 404)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mockedSetupClient(t)
			httpmock.RegisterResponder(http.MethodGet, telegramAPIURL+"/bot123:abc/getMe",
				httpmock.NewStringResponder(tt.status, tt.body).HeaderSet(jsonHeader))

			err := validateTelegramToken(client, "123:abc")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidateGeminiKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"valid", http.StatusOK, `{"models": []}`, ""},
		{"invalid key", http.StatusBadRequest, `{"error": {"message": "API key not valid"}}`, "API key not valid"},
		{"forbidden without message", http.StatusForbidden, `{}`, "API key rejected (HTTP 403)"},
		{"server error", http.StatusInternalServerError, `{}`, "unexpected response (HTTP 500)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mockedSetupClient(t)
			httpmock.RegisterResponder(http.MethodGet, geminiAPIURL+"/v1beta/models",
				httpmock.NewStringResponder(tt.status, tt.body).HeaderSet(jsonHeader))

			err := validateGeminiKey(client, "secret")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidateOptionalZIP(t *testing.T) {
	assert.NoError(t, validateOptionalZIP(""))
	assert.NoError(t, validateOptionalZIP(" 98101 "))
	assert.Error(t, validateOptionalZIP("9810"))
	assert.Error(t, validateOptionalZIP("98a01"))
}

func TestSetupValues(t *testing.T) {
	assert.Equal(t, map[string]string{
		"BOT_TOKEN":      "token",
		"GEMINI_API_KEY": "key",
	}, setupValues(" token ", "key", "", "  "))

	assert.Equal(t, map[string]string{
		"BOT_TOKEN":      "token",
		"GEMINI_API_KEY": "key",
		"OPENAI_API_KEY": "sk-1",
		"LOCATION":       "98101",
	}, setupValues("token", "key", "sk-1", "98101"))
}
