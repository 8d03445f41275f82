package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tisystems/user-sync-service/internal/config"
)

func testConfig(url string) config.Sources {
	return config.Sources{
		DirectoryURL:   url,
		TimeclockURL:   url,
		TimeclockToken: "test-token",
		AccountingURL:  url,
		ERPURL:         url,
		PortalURL:      url,
		LogicURL:       url,
		Timeout:        5 * time.Second,
		Retries:        0,
	}
}

func TestClient_DirectoryUsers(t *testing.T) {
	records := []map[string]any{
		{"name": "maria", "Nome_Completo": "Maria Silva"},
		{"name": "joao", "Nome_Completo": "João Souza"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	rows, err := client.DirectoryUsers(context.Background())

	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "Maria Silva", rows[0]["Nome_Completo"])
}

func TestClient_DirectoryUsers_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	rows, err := client.DirectoryUsers(context.Background())

	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "API returned status 500")
}

func TestClient_DirectoryUsers_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	rows, err := client.DirectoryUsers(context.Background())

	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestClient_DirectoryUsers_NotAList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "unexpected"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	rows, err := client.DirectoryUsers(context.Background())

	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, ErrNotList)
}

func TestClient_DirectoryUsers_MissingURL(t *testing.T) {
	cfg := testConfig("")
	client := NewClient(cfg)

	rows, err := client.DirectoryUsers(context.Background())

	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "not configured")
}

func TestClient_Retry(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{"name": "ok"}})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retries = 2
	client := NewClient(cfg)

	rows, err := client.DirectoryUsers(context.Background())

	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, callCount)
}

func TestClient_Retry_Exhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retries = 2
	client := NewClient(cfg)

	rows, err := client.DirectoryUsers(context.Background())

	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestClient_TimeclockContacts(t *testing.T) {
	var gotAuth string
	records := []any{
		map[string]any{"json": map[string]any{"nome": "  Maria Silva  ", "email": " maria@x.com "}},
		map[string]any{"json": map[string]any{"nome": "", "email": ""}},     // empty after trim
		map[string]any{"json": "not-an-object"},                             // malformed wrapper
		map[string]any{"nome": "sem wrapper"},                               // no wrapper at all
		"not-an-object",                                                     // non-object entry
		map[string]any{"json": map[string]any{"nome": "Só Nome", "email": ""}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authentication")
		json.NewEncoder(w).Encode(records)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	contacts, err := client.TimeclockContacts(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, "test-token", gotAuth)
	assert.Len(t, contacts, 2)
	assert.Equal(t, "Maria Silva", contacts[0].Name)
	assert.Equal(t, "maria@x.com", contacts[0].Email)
	assert.Equal(t, "Só Nome", contacts[1].Name)
	assert.Equal(t, "", contacts[1].Email)
}

func TestClient_TimeclockContacts_MissingToken(t *testing.T) {
	cfg := testConfig("http://example.invalid")
	cfg.TimeclockToken = ""
	client := NewClient(cfg)

	contacts, err := client.TimeclockContacts(context.Background())

	assert.Error(t, err)
	assert.Nil(t, contacts)
	assert.Contains(t, err.Error(), "TIMECLOCK_TOKEN")
}
