// Package auth は外部IDプロバイダが発行したJWTトークンの検証機能を提供する。
//
// IDプロバイダのJWKSエンドポイントから公開鍵セットを取得・キャッシュし、
// RS256署名の検証、有効期限等のクレーム検証、subクレームの抽出を行う。
// 検証済みのユーザーIDはミドルウェア経由で各サービスのハンドラに伝播される。
package auth
