package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkewLeeway は検証側と発行側の時計のずれとして許容する幅。
const clockSkewLeeway = 30 * time.Second

// Identity は検証に成功したトークンから抽出した認証済みユーザー情報。
// リクエストごとに生成され、リクエスト処理の完了とともに破棄される。
type Identity struct {
	// Subject はsubクレームの値（認証済みユーザーの一意識別子）。
	Subject string
}

// Verifier はベアラートークン文字列を検証してIdentityを生成する。
// 署名鍵はKeySet経由でkidから解決する。複数ゴルーチンから同時に使用できる。
type Verifier struct {
	// keys は署名検証に使用する公開鍵のキャッシュ。
	keys *KeySet
}

// NewVerifier は指定された鍵セットを使用するVerifierを生成する。
func NewVerifier(keys *KeySet) *Verifier {
	return &Verifier{keys: keys}
}

// Verify はトークン文字列を検証し、成功時にsubクレームを持つIdentityを返す。
//
// 検証内容:
//   - トークン構造のパース
//   - 署名アルゴリズムがRS256であること（noneおよび共通鍵方式は拒否）
//   - kidに対応する公開鍵による署名検証
//   - exp/iatの時刻検証（clockSkewLeewayの猶予付き。expとiatは必須）
//   - subクレームが空でないこと
//
// クレームは型付き構造体に直接デシリアライズせず、フィールドごとに
// 型を検証しながら取り出す。
func (v *Verifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return Identity{}, classifyVerifyError(token, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidSignature
	}

	// iatは必須クレーム。WithIssuedAtは存在する場合の未来時刻のみ検証する。
	if _, ok := claims["iat"]; !ok {
		return Identity{}, ErrMalformedToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrMissingSubject
	}

	return Identity{Subject: sub}, nil
}

// classifyVerifyError はjwt-goのエラーをこのパッケージの失敗種別に変換する。
// 鍵キャッシュ由来のエラーはkeyfuncのエラーとしてラップされてくるため先に判定する。
//
// 許可外アルゴリズムの拒否はjwt-goでは署名エラーとして報告されるが、
// このパッケージでは受理可能な構造ですらないものとしてErrMalformedTokenに分類する。
// RS256トークンの実際の署名不一致との区別はパース済みトークンのヘッダで行う。
func classifyVerifyError(token *jwt.Token, err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, ErrIssuerUnreachable):
		return ErrIssuerUnreachable
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if token != nil && token.Method != nil && token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return ErrMalformedToken
		}
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return ErrMalformedToken
	}
}
