package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

func testCreds() *models.TenantCredentials {
	return &models.TenantCredentials{
		TenantID:      "t-1",
		EmailAPIKey:   "email-key",
		MailboxAPIKey: "mailbox-key",
		SearchAPIKey:  "search-key",
	}
}

func TestSendEmail(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message_id": "m-42"}`))
	}))
	defer srv.Close()

	action := NewSendEmail(srv.URL, logging.NewLoggerWithLevel("error"))
	out, err := action.Execute(context.Background(), Input{
		TenantID: "t-1",
		Config: &models.SendEmailConfig{
			To:      "jordan@acme.example",
			Subject: "Hi",
			Body:    "Welcome",
		},
		Credentials: testCreds(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer email-key", gotAuth)
	assert.Equal(t, "jordan@acme.example", gotPayload["to"])
	assert.Equal(t, "sent", out["status"])
	assert.Equal(t, "m-42", out["message_id"])
}

func TestSendEmailMissingCredentials(t *testing.T) {
	action := NewSendEmail("http://unused.example", logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.SendEmailConfig{To: "a@b.c", Subject: "s", Body: "b"},
		Credentials: &models.TenantCredentials{TenantID: "t-1"},
	})
	require.Error(t, err)
	assert.Equal(t, KindCredentialsMissing, KindOf(err))
	assert.False(t, Retryable(err))
}

func TestSendEmailUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	action := NewSendEmail(srv.URL, logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.SendEmailConfig{To: "a@b.c", Subject: "s", Body: "b"},
		Credentials: testCreds(),
	})
	require.Error(t, err)
	assert.Equal(t, KindActionExecutionFailed, KindOf(err))
	assert.True(t, Retryable(err))
}

func TestSendEmailRejectedRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid recipient", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	action := NewSendEmail(srv.URL, logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.SendEmailConfig{To: "nope", Subject: "s", Body: "b"},
		Credentials: testCreds(),
	})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestChatMessageUsesTenantWebhook(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotText = payload["text"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	action := NewChatMessage(logging.NewLoggerWithLevel("error"))
	creds := testCreds()
	creds.ChatWebhookURL = srv.URL

	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.ChatMessageConfig{Text: "deal won!"},
		Credentials: creds,
	})
	require.NoError(t, err)
	assert.Equal(t, "deal won!", gotText)
	assert.Equal(t, "sent", out["status"])
}

func TestChatMessageMissingWebhook(t *testing.T) {
	action := NewChatMessage(logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.ChatMessageConfig{Text: "x"},
		Credentials: &models.TenantCredentials{TenantID: "t-1"},
	})
	require.Error(t, err)
	assert.Equal(t, KindCredentialsMissing, KindOf(err))
}

func TestWebSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"title": "Acme Corp", "url": "https://acme.example", "snippet": "About Acme"},
			{"title": "Acme News", "url": "https://news.example", "snippet": "Acme raises"}
		]}`))
	}))
	defer srv.Close()

	action := NewWebSearch(srv.URL, logging.NewLoggerWithLevel("error"))
	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.WebSearchConfig{Query: "acme corp"},
		Credentials: testCreds(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out["count"])
	results := out["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "Acme Corp", first["title"])
}
