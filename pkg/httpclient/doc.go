// Package httpclient は外部サービスへのHTTP通信を行うクライアントを提供する。
//
// IDプロバイダのJWKSエンドポイントからの鍵セット取得など、
// タイムアウトを制御した外部エンドポイントへのアクセスに使用する。
package httpclient
