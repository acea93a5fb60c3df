package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery はハンドラ内で発生したパニックを捕捉するGinミドルウェアを返す。
// パニックの内容と対象リクエストをログに記録し、クライアントには
// 詳細を含まない500レスポンスのみを返す。認証ゲートより前に適用すること。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("パニックから回復しました: %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
