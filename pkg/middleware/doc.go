// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTベアラートークンの検証、パス上のユーザーIDと認証済みユーザーの
// 一致確認、パニックリカバリ、CORS設定を含む。保護対象のリクエストは
// 必ず検証（401判定）を通過した後に所有者確認（403判定）へ進む。
package middleware
