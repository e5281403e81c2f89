package aihub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authevents"
)

func newTestClient(test *testing.T, handler http.HandlerFunc) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL + "/", AppKey: "app-key"}, server.Client(), nil)
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func TestUserInfoSendsHubHeaders(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != pathUserInfo {
			test.Errorf("unexpected path %s", request.URL.Path)
		}
		if request.Header.Get("Authorization") != "hub-token" {
			test.Errorf("authorization must be the raw token, got %q", request.Header.Get("Authorization"))
		}
		if request.Header.Get("appkey") != "app-key" || request.Header.Get("language") != "zh-cn" {
			test.Errorf("unexpected headers: %v", request.Header)
		}
		_, _ = writer.Write([]byte(`{"code":1000,"data":{"user":{"id":42,"email":"ada@example.com","nickName":"Ada"}}}`))
	})
	info, err := client.UserInfo(context.Background(), "hub-token", "zh")
	if err != nil {
		test.Fatalf("user info: %v", err)
	}
	if info.ID != "42" || info.Email != "ada@example.com" || info.Nickname != "Ada" {
		test.Fatalf("unexpected info: %+v", info)
	}
}

func TestUserInfoFallsBackToUUID(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"code":1000,"data":{"user":{"uuid":"u-1"}}}`))
	})
	info, err := client.UserInfo(context.Background(), "t", "en")
	if err != nil || info.ID != "u-1" {
		test.Fatalf("expected u-1, got %+v (%v)", info, err)
	}
}

func TestUserInfoClassifiesExpiry(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		status   int
		body     string
		expected authevents.EventType
	}{
		{name: "http 401", status: http.StatusUnauthorized, body: `{}`, expected: authevents.EventUnauthorized},
		{name: "message", status: http.StatusOK, body: `{"code":500,"message":"登录失效，请重新登录"}`, expected: authevents.EventLoginExpired},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.body))
			})
			_, err := client.UserInfo(context.Background(), "t", "en")
			if !errors.Is(err, ErrLoginExpired) {
				test.Fatalf("expected ErrLoginExpired, got %v", err)
			}
			var expired *ExpiredError
			if !errors.As(err, &expired) || expired.Event.Type != testCase.expected {
				test.Fatalf("expected event %s, got %v", testCase.expected, err)
			}
		})
	}
}

func TestUserInfoUpstreamFailure(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"code":1001,"message":"no such user"}`))
	})
	_, err := client.UserInfo(context.Background(), "t", "en")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.Code != 1001 || upstream.Message != "no such user" {
		test.Fatalf("expected upstream error, got %v", err)
	}
}

func TestFetchCredentials(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != pathSTSCredential {
			test.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
		var payload map[string]string
		_ = json.NewDecoder(request.Body).Decode(&payload)
		if payload["bucket"] != "media-1" || payload["region"] != "ap-shanghai" || payload["actionType"] != "default" {
			test.Errorf("unexpected payload %v", payload)
		}
		_, _ = writer.Write([]byte(`{"code":0,"data":{"secretId":"id","secretKey":"key","sessionToken":"tok","startTime":100,"expiredTime":1900}}`))
	})
	creds, err := client.FetchCredentials(context.Background(), "media-1", "ap-shanghai")
	if err != nil {
		test.Fatalf("fetch credentials: %v", err)
	}
	if creds.SecretID != "id" || creds.SessionToken != "tok" || creds.ExpiredTime != 1900 || creds.Bucket != "media-1" {
		test.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestNewClientRequiresBaseURL(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{}, nil, nil); !errors.Is(err, ErrNotConfigured) {
		test.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if BackendLocale("en") != "en" || BackendLocale("zh") != "zh-cn" {
		test.Fatalf("unexpected locale mapping")
	}
}
