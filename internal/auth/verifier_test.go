package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testKid はテストのJWKSサーバーが公開する鍵のkid。
const testKid = "test-key-1"

// setupVerifier はテスト用のVerifierと署名用秘密鍵を構築するヘルパー関数。
// JWKSのモックサーバーはテスト終了時にクリーンアップされる。
func setupVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()

	priv := generateTestKey(t)
	var fetchCount atomic.Int64
	server := httptest.NewServer(jwksHandler(&fetchCount, func() []map[string]string {
		return []map[string]string{jwkOf(testKid, &priv.PublicKey)}
	}))
	t.Cleanup(server.Close)

	return NewVerifier(NewKeySet(server.URL)), priv
}

// signRS256 はRS256でクレームを署名したトークン文字列を生成するヘルパー関数。
func signRS256(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// validClaims は検証を通過する標準的なクレームを生成するヘルパー関数。
func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": sub,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

// TestVerify はVerifierのトークン検証を検証する。
func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンからsubを取得できること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, testKid, validClaims("user-123"))

		identity, err := v.Verify(context.Background(), tokenStr)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if identity.Subject != "user-123" {
			t.Errorf("Subject = %q, want %q", identity.Subject, "user-123")
		}
	})

	t.Run("署名が改ざんされたトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, testKid, validClaims("user-tampered"))

		// 署名部分の先頭文字を別の文字に差し替える
		parts := strings.Split(tokenStr, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(sig)

		if _, err := v.Verify(context.Background(), tampered); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify() = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("別の鍵で署名されたトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, _ := setupVerifier(t)
		otherKey := generateTestKey(t)
		tokenStr := signRS256(t, otherKey, testKid, validClaims("user-other-key"))

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify() = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("期限切れトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		now := time.Now()
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"sub": "user-expired",
			"iat": jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			"exp": jwt.NewNumericDate(now.Add(-time.Hour)),
		})

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrTokenExpired) {
			t.Errorf("Verify() = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("許容時計ずれ内の期限切れは受け入れること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		now := time.Now()
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"sub": "user-skew",
			"iat": jwt.NewNumericDate(now.Add(-time.Hour)),
			"exp": jwt.NewNumericDate(now.Add(-10 * time.Second)),
		})

		if _, err := v.Verify(context.Background(), tokenStr); err != nil {
			t.Errorf("許容時計ずれ内のVerify()でエラーが発生: %v", err)
		}
	})

	t.Run("iatが未来のトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		now := time.Now()
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"sub": "user-future",
			"iat": jwt.NewNumericDate(now.Add(10 * time.Minute)),
			"exp": jwt.NewNumericDate(now.Add(time.Hour)),
		})

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrTokenNotYetValid) {
			t.Errorf("Verify() = %v, want ErrTokenNotYetValid", err)
		}
	})

	t.Run("expが無いトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"sub": "user-no-exp",
			"iat": jwt.NewNumericDate(time.Now()),
		})

		if _, err := v.Verify(context.Background(), tokenStr); err == nil {
			t.Error("expの無いトークンがエラーを返すべき")
		}
	})

	t.Run("iatが無いトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"sub": "user-no-iat",
			"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify() = %v, want ErrMalformedToken", err)
		}
	})

	t.Run("subが無いトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		now := time.Now()
		tokenStr := signRS256(t, priv, testKid, jwt.MapClaims{
			"iat": jwt.NewNumericDate(now),
			"exp": jwt.NewNumericDate(now.Add(time.Hour)),
		})

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrMissingSubject) {
			t.Errorf("Verify() = %v, want ErrMissingSubject", err)
		}
	})

	t.Run("subが空文字列のトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, testKid, validClaims(""))

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrMissingSubject) {
			t.Errorf("Verify() = %v, want ErrMissingSubject", err)
		}
	})

	t.Run("alg=noneのトークンを構造不正として拒否すること", func(t *testing.T) {
		t.Parallel()

		v, _ := setupVerifier(t)
		token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("user-none"))
		token.Header["kid"] = testKid
		tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify() = %v, want ErrMalformedToken", err)
		}
	})

	t.Run("HS256で署名されたトークンを構造不正として拒否すること", func(t *testing.T) {
		t.Parallel()

		v, _ := setupVerifier(t)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user-hmac"))
		token.Header["kid"] = testKid
		tokenStr, err := token.SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify() = %v, want ErrMalformedToken", err)
		}
	})

	t.Run("kidヘッダーが無いトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, "", validClaims("user-no-kid"))

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("Verify() = %v, want ErrUnknownKey", err)
		}
	})

	t.Run("未知のkidのトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		v, priv := setupVerifier(t)
		tokenStr := signRS256(t, priv, "no-such-kid", validClaims("user-unknown-kid"))

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("Verify() = %v, want ErrUnknownKey", err)
		}
	})

	t.Run("JWT形式でない文字列を拒否すること", func(t *testing.T) {
		t.Parallel()

		v, _ := setupVerifier(t)
		if _, err := v.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify() = %v, want ErrMalformedToken", err)
		}
	})

	t.Run("JWKSエンドポイントに到達できない場合エラーになること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		server.Close()

		v := NewVerifier(NewKeySet(server.URL))
		priv := generateTestKey(t)
		tokenStr := signRS256(t, priv, testKid, validClaims("user-unreachable"))

		if _, err := v.Verify(context.Background(), tokenStr); !errors.Is(err, ErrIssuerUnreachable) {
			t.Errorf("Verify() = %v, want ErrIssuerUnreachable", err)
		}
	})
}

// TestVerifyAfterKeyRotation は鍵ローテーション後の検証を確認する。
func TestVerifyAfterKeyRotation(t *testing.T) {
	t.Parallel()

	priv1 := generateTestKey(t)
	priv2 := generateTestKey(t)
	var rotated atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		keys := []map[string]string{jwkOf("old-key", &priv1.PublicKey)}
		if rotated.Load() {
			keys = []map[string]string{jwkOf("new-key", &priv2.PublicKey)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(server.Close)

	ks := NewKeySet(server.URL)
	ks.minRefresh = 0 // スロットルを無効化
	v := NewVerifier(ks)

	oldToken := signRS256(t, priv1, "old-key", validClaims("user-rotate"))
	if _, err := v.Verify(context.Background(), oldToken); err != nil {
		t.Fatalf("ローテーション前のVerify()でエラーが発生: %v", err)
	}

	rotated.Store(true)

	newToken := signRS256(t, priv2, "new-key", validClaims("user-rotate"))
	identity, err := v.Verify(context.Background(), newToken)
	if err != nil {
		t.Fatalf("ローテーション後のVerify()でエラーが発生: %v", err)
	}
	if identity.Subject != "user-rotate" {
		t.Errorf("Subject = %q, want %q", identity.Subject, "user-rotate")
	}

	// 旧鍵は新しい鍵セットに含まれないため拒否される
	if _, err := v.Verify(context.Background(), oldToken); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("ローテーション後の旧トークンのVerify() = %v, want ErrUnknownKey", err)
	}
}
