package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestGetJSON はGetJSONメソッドを検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常なレスポンスをデシリアライズできること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("メソッド = %q, want %q", r.Method, http.MethodGet)
			}
			if got := r.Header.Get("Accept"); got != "application/json" {
				t.Errorf("Accept = %q, want %q", got, "application/json")
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"test-item","count":3}`)
		}))
		t.Cleanup(server.Close)

		client := New(server.URL)
		var result struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		if err := client.GetJSON(context.Background(), "/items/1", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if result.Name != "test-item" {
			t.Errorf("Name = %q, want %q", result.Name, "test-item")
		}
		if result.Count != 3 {
			t.Errorf("Count = %d, want 3", result.Count)
		}
	})

	t.Run("パスがベースURLに連結されること", func(t *testing.T) {
		t.Parallel()

		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		client := New(server.URL)
		if err := client.GetJSON(context.Background(), "/api/auth/jwks", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if gotPath != "/api/auth/jwks" {
			t.Errorf("リクエストパス = %q, want %q", gotPath, "/api/auth/jwks")
		}
	})

	t.Run("2xx以外のステータスコードでエラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"server broken"}`)
		}))
		t.Cleanup(server.Close)

		client := New(server.URL)
		err := client.GetJSON(context.Background(), "/fail", nil)
		if err == nil {
			t.Fatal("5xxレスポンスがエラーを返すべき")
		}
		if !strings.Contains(err.Error(), "500") {
			t.Errorf("エラーにステータスコードが含まれるべき: %v", err)
		}
	})

	t.Run("不正なJSONレスポンスでエラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `not-json`)
		}))
		t.Cleanup(server.Close)

		client := New(server.URL)
		var result map[string]any
		if err := client.GetJSON(context.Background(), "/bad", &result); err == nil {
			t.Error("不正なJSONがエラーを返すべき")
		}
	})

	t.Run("resultがnilの場合ボディをデシリアライズしないこと", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `not-json`)
		}))
		t.Cleanup(server.Close)

		client := New(server.URL)
		if err := client.GetJSON(context.Background(), "/ignore-body", nil); err != nil {
			t.Errorf("resultがnilの場合エラーを返すべきではない: %v", err)
		}
	})

	t.Run("タイムアウトを超えたリクエストがエラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		client := NewWithTimeout(server.URL, 50*time.Millisecond)
		if err := client.GetJSON(context.Background(), "/slow", nil); err == nil {
			t.Error("タイムアウトがエラーを返すべき")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := New(server.URL)
		if err := client.GetJSON(ctx, "/cancelled", nil); err == nil {
			t.Error("キャンセル済みコンテキストがエラーを返すべき")
		}
	})

	t.Run("到達できないエンドポイントでエラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		server.Close()

		client := New(server.URL)
		if err := client.GetJSON(context.Background(), "/unreachable", nil); err == nil {
			t.Error("到達できないエンドポイントがエラーを返すべき")
		}
	})
}
