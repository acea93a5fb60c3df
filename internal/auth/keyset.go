package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tasuku-app/tasuku/pkg/httpclient"
)

// 鍵キャッシュのチューニング値。IDプロバイダ側の鍵ローテーション周期に
// 依存しないよう、TTL切れまたは未知のkid検出時にリフレッシュする。
const (
	// defaultKeyTTL は取得済み鍵セットを信頼する期間。
	defaultKeyTTL = 5 * time.Minute
	// defaultMinRefreshInterval はリフレッシュの最小間隔。
	// 不正なkidを持つトークンの連続投入によるリフレッシュの
	// 増幅（DoS）を防ぐためのスロットル。
	defaultMinRefreshInterval = 10 * time.Second
	// defaultFetchTimeout はJWKSエンドポイントへのHTTPリクエストのタイムアウト。
	defaultFetchTimeout = 10 * time.Second
)

// KeySet はJWKSエンドポイントから取得したRSA公開鍵のプロセス内キャッシュ。
// 鍵セットは常に全体を丸ごと差し替えるため、並行する読み取りが
// 部分的に更新された状態を観測することはない。
type KeySet struct {
	// client はJWKSエンドポイントへのHTTPクライアント。
	client *httpclient.Client
	// ttl は取得済み鍵セットの有効期間。
	ttl time.Duration
	// minRefresh はリフレッシュ試行の最小間隔。
	minRefresh time.Duration
	// sf は同時に発生したリフレッシュ要求を1回のHTTP取得に集約する。
	sf singleflight.Group

	mu sync.RWMutex
	// keys はkidからRSA公開鍵へのマップ。リフレッシュ時に全体を差し替える。
	keys map[string]*rsa.PublicKey
	// fetchedAt は現在の鍵セットを取得した時刻。
	fetchedAt time.Time
	// lastAttempt は最後にリフレッシュを試行した時刻（成否を問わない）。
	lastAttempt time.Time
}

// NewKeySet は指定されたJWKSエンドポイントURLから鍵を取得するKeySetを生成する。
// 鍵は初回のKey呼び出し時に遅延取得される。
func NewKeySet(jwksURL string) *KeySet {
	return &KeySet{
		client:     httpclient.NewWithTimeout(jwksURL, defaultFetchTimeout),
		ttl:        defaultKeyTTL,
		minRefresh: defaultMinRefreshInterval,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Key はkidに対応するRSA公開鍵を返す。
// キャッシュがTTL内でkidが存在すればそのまま返し、TTL切れまたは
// 未知のkidの場合はリフレッシュを試みる。リフレッシュに失敗しても
// 旧鍵セットにkidが存在すればそれを使用する（フェイルソフト）。
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	fresh := !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < k.ttl
	k.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := k.refresh(ctx); err != nil {
		// 取得失敗時は旧鍵セットを保持し続ける（フェイルソフト）
		k.mu.RLock()
		key, ok = k.keys[kid]
		empty := len(k.keys) == 0
		k.mu.RUnlock()

		if ok {
			log.Printf("JWKSの再取得に失敗したためキャッシュ済みの鍵を使用: kid=%s, error=%v", kid, err)
			return key, nil
		}
		if empty {
			// コールドスタートで取得に失敗した場合は検証不能（フェイルクローズド）
			return nil, err
		}
		return nil, ErrKeyNotFound
	}

	k.mu.RLock()
	key, ok = k.keys[kid]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// refresh はJWKSエンドポイントから鍵セットを再取得してキャッシュを差し替える。
// 最小リフレッシュ間隔内の再試行はスキップし、同時に発生した要求は
// singleflightで1回の取得に集約する。
func (k *KeySet) refresh(ctx context.Context) error {
	k.mu.RLock()
	throttled := !k.lastAttempt.IsZero() && time.Since(k.lastAttempt) < k.minRefresh
	k.mu.RUnlock()
	if throttled {
		return nil
	}

	_, err, _ := k.sf.Do("jwks", func() (any, error) {
		k.mu.Lock()
		if !k.lastAttempt.IsZero() && time.Since(k.lastAttempt) < k.minRefresh {
			k.mu.Unlock()
			return nil, nil
		}
		k.lastAttempt = time.Now()
		k.mu.Unlock()

		keys, err := k.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
		}

		k.mu.Lock()
		k.keys = keys
		k.fetchedAt = time.Now()
		k.mu.Unlock()

		log.Printf("JWKSを取得しました: 鍵数=%d", len(keys))
		return nil, nil
	})
	return err
}

// jwksDocument はJWKSエンドポイントのレスポンス構造（RFC 7517）。
type jwksDocument struct {
	// Keys は公開鍵のリスト。
	Keys []jwkKey `json:"keys"`
}

// jwkKey はJWKS内の1つの鍵。RSA鍵の復元に必要なフィールドのみ持つ。
type jwkKey struct {
	// Kty は鍵種別。RSAのみ受け付ける。
	Kty string `json:"kty"`
	// Kid は鍵の一意識別子。
	Kid string `json:"kid"`
	// Alg は署名アルゴリズム。
	Alg string `json:"alg"`
	// Use は鍵用途。
	Use string `json:"use"`
	// N はRSAモジュラス（base64url）。
	N string `json:"n"`
	// E はRSA公開指数（base64url）。
	E string `json:"e"`
}

// fetch はJWKSエンドポイントにGETリクエストを送信し、
// kidからRSA公開鍵へのマップを構築する。
func (k *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	var doc jwksDocument
	if err := k.client.GetJSON(ctx, "", &doc); err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jk := range doc.Keys {
		if jk.Kid == "" || jk.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(jk.N, jk.E)
		if err != nil {
			// 不正な鍵はスキップして残りを使用する
			log.Printf("JWKS内の鍵の解析に失敗: kid=%s, error=%v", jk.Kid, err)
			continue
		}
		keys[jk.Kid] = pub
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("JWKSに使用可能なRSA鍵が含まれていない")
	}
	return keys, nil
}

// parseRSAPublicKey はbase64urlエンコードされたモジュラスと公開指数から
// RSA公開鍵を復元する。
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("モジュラスのデコードに失敗: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("公開指数のデコードに失敗: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
