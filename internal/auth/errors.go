package auth

import "errors"

// トークン検証の失敗種別。HTTPレスポンスではすべて401に集約され、
// 具体的な失敗理由はサーバー内部のログにのみ記録される。
var (
	// ErrMalformedToken はトークンの構造が不正な場合のエラー。
	ErrMalformedToken = errors.New("トークンの形式が不正")
	// ErrUnknownKey はトークンのkidに対応する鍵が鍵セットに存在しない場合のエラー。
	ErrUnknownKey = errors.New("未知の署名鍵ID")
	// ErrInvalidSignature は署名検証に失敗した場合のエラー。
	ErrInvalidSignature = errors.New("署名が不正")
	// ErrTokenExpired はトークンの有効期限が切れている場合のエラー。
	ErrTokenExpired = errors.New("トークンの有効期限切れ")
	// ErrTokenNotYetValid はトークンがまだ有効になっていない場合のエラー。
	ErrTokenNotYetValid = errors.New("トークンが未だ有効でない")
	// ErrMissingSubject はsubクレームが存在しないか空の場合のエラー。
	ErrMissingSubject = errors.New("subクレームが存在しない")
	// ErrKeyNotFound はリフレッシュ後もkidに対応する鍵が見つからない場合のエラー。
	ErrKeyNotFound = errors.New("署名鍵が見つからない")
	// ErrIssuerUnreachable はJWKSエンドポイントへの接続に失敗し、
	// かつ利用可能なキャッシュが存在しない場合のエラー。
	ErrIssuerUnreachable = errors.New("鍵プロバイダに接続できない")
)
