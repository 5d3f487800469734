package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkhera/wafunnel/internal/config"
)

func testConfig(baseURL string) config.WhatsAppConfig {
	return config.WhatsAppConfig{
		AccessToken:       "test-access-token",
		PhoneNumberID:     "1000001",
		BusinessAccountID: "2000002",
		VerifyToken:       "verify",
		BaseURL:           baseURL,
		TemplateLanguage:  "en_US",
		Timeout:           5 * time.Second,
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://example.com")
	cfg.AccessToken = ""
	_, err := NewClient(cfg, nil)
	require.Error(t, err)

	cfg = testConfig("https://example.com")
	cfg.PhoneNumberID = ""
	_, err = NewClient(cfg, nil)
	require.Error(t, err)
}

func TestSendText_PayloadAndAuth(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	require.NoError(t, client.SendText(context.Background(), "15551234567", "hi there"))
	require.Equal(t, "/1000001/messages", gotPath)
	require.Equal(t, "Bearer test-access-token", gotAuth)
	require.Equal(t, "whatsapp", gotPayload["messaging_product"])
	require.Equal(t, "text", gotPayload["type"])
	require.Equal(t, "15551234567", gotPayload["to"])
	require.Equal(t, map[string]any{"body": "hi there"}, gotPayload["text"])
}

func TestSendTemplate_PayloadIncludesLanguage(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	require.NoError(t, client.SendTemplate(context.Background(), "15551234567", "welcome"))
	require.Equal(t, "template", gotPayload["type"])
	require.Equal(t, map[string]any{
		"name":     "welcome",
		"language": map[string]any{"code": "en_US"},
	}, gotPayload["template"])
}

func TestSend_ProviderErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid token"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	err = client.SendText(context.Background(), "15551234567", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")

	err = client.SendTemplate(context.Background(), "15551234567", "welcome")
	require.Error(t, err)
}

func TestSend_TimeoutIsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	require.Error(t, client.SendText(context.Background(), "15551234567", "hi"))
}

func TestListTemplates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2000002/message_templates", r.URL.Path)
		require.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"1","name":"welcome","language":"en_US","category":"MARKETING","status":"APPROVED"}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	templates, err := client.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.Equal(t, "welcome", templates[0].Name)
	require.Equal(t, "APPROVED", templates[0].Status)
}

func TestListTemplates_RequiresBusinessAccount(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://example.com")
	cfg.BusinessAccountID = ""
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	_, err = client.ListTemplates(context.Background())
	require.Error(t, err)
}
