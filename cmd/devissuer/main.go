// 開発用トークン発行サービスのエントリポイント。
// ローカル開発でタスクAPIに渡すJWTの発行と、検証用のJWKSを提供する。
package main

import (
	"log"
	"os"

	"github.com/tasuku-app/tasuku/internal/devissuer"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	server, err := devissuer.NewServer(port)
	if err != nil {
		log.Fatalf("トークン発行サーバーの初期化に失敗: %v", err)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("トークン発行サービスの起動に失敗: %v", err)
	}
}
