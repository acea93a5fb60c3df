// タスクAPIサービスのエントリポイント。
// JWKSで取得した公開鍵でJWTを検証し、所有者のみが
// 自分のタスクをCRUD操作できるAPIを提供する。
package main

import (
	"log"
	"os"

	"github.com/tasuku-app/tasuku/internal/task"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	server, err := task.NewServer(port)
	if err != nil {
		log.Fatalf("タスクサーバーの初期化に失敗: %v", err)
	}

	log.Printf("タスクサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("タスクサービスの起動に失敗: %v", err)
	}
}
