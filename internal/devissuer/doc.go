// Package devissuer はローカル開発用のトークン発行サービスを提供する。
// 起動時にRSA鍵ペアを生成し、任意のユーザーIDに対する署名付きJWTの発行と、
// 対応する公開鍵のJWKSエンドポイントを公開する。本番環境での利用は想定しない。
package devissuer
