package evolink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
)

func mustClient(test *testing.T, server *httptest.Server) *Client {
	test.Helper()
	client, err := NewClient(Config{BaseURL: server.URL + "/", APIKey: "key-1"}, server.Client(), nil)
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateAppliesDefaults(test *testing.T) {
	test.Parallel()
	var received []byte
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != pathGenerations || request.Method != http.MethodPost {
			http.NotFound(writer, request)
			return
		}
		authorization = request.Header.Get("Authorization")
		received, _ = io.ReadAll(request.Body)
		writer.Write([]byte(`{"id":"task-9","status":"pending"}`))
	}))
	defer server.Close()

	raw, err := mustClient(test, server).Generate(context.Background(), GenerateRequest{Prompt: "  a cat  ", ImageURLs: []string{}})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if authorization != "Bearer key-1" {
		test.Fatalf("unexpected authorization %q", authorization)
	}
	payload := gjson.ParseBytes(received)
	if payload.Get("model").String() != defaultModel || payload.Get("size").String() != "auto" || payload.Get("quality").String() != "2K" {
		test.Fatalf("defaults missing in %s", received)
	}
	if payload.Get("prompt").String() != "a cat" || payload.Get("image_urls").Exists() {
		test.Fatalf("unexpected payload %s", received)
	}
	if gjson.GetBytes(raw, "id").String() != "task-9" {
		test.Fatalf("expected raw vendor json, got %s", raw)
	}
}

func TestVendorErrorCarriesMessage(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusPaymentRequired)
		writer.Write([]byte(`{"error":{"message":"quota exhausted","type":"billing"}}`))
	}))
	defer server.Close()

	_, err := mustClient(test, server).Task(context.Background(), "task-1")
	var vendorErr *VendorError
	if !errors.As(err, &vendorErr) {
		test.Fatalf("expected VendorError, got %v", err)
	}
	if vendorErr.Status != http.StatusPaymentRequired || vendorErr.Message != "quota exhausted" {
		test.Fatalf("unexpected vendor error %+v", vendorErr)
	}
	var detail map[string]string
	if err := json.Unmarshal(vendorErr.Body, &detail); err != nil || detail["type"] != "billing" {
		test.Fatalf("expected error body, got %s", vendorErr.Body)
	}
}

func TestTaskValidatesID(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte(`{"id":"` + request.URL.Path + `"}`))
	}))
	defer server.Close()
	client := mustClient(test, server)

	for _, taskID := range []string{"", "  ", "../admin", "a?b"} {
		if _, err := client.Task(context.Background(), taskID); !errors.Is(err, ErrInvalidTaskID) {
			test.Fatalf("expected ErrInvalidTaskID for %q, got %v", taskID, err)
		}
	}
	raw, err := client.Task(context.Background(), "task-42")
	if err != nil || gjson.GetBytes(raw, "id").String() != "/v1/tasks/task-42" {
		test.Fatalf("unexpected task response %s (%v)", raw, err)
	}
}

func TestNewClientRequiresKey(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{BaseURL: "https://api.evolink.ai"}, nil, nil); !errors.Is(err, ErrNotConfigured) {
		test.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := (GenerateRequest{Prompt: " "}).Normalize(); !errors.Is(err, ErrEmptyPrompt) {
		test.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}
