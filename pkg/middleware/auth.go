package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tasuku-app/tasuku/internal/auth"
)

// contextKeyUserID はGinコンテキストに認証済みユーザーIDを格納するキー。
const contextKeyUserID = "user_id"

// JWTAuth はベアラートークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに認証済みユーザーID（subクレーム）を設定する。
//
// 検証失敗時のレスポンスは一律に401と汎用メッセージのみで、どの検証段階で
// 失敗したかはクライアントに返さない（トークン偽造の試行に対して
// 手がかりを与えないため）。具体的な失敗理由はログにのみ記録する。
func JWTAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			log.Printf("トークン検証に失敗: %v", err)
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証に失敗しました",
			})
			return
		}

		c.Set(contextKeyUserID, identity.Subject)
		c.Next()
	}
}

// OwnerOnly はパスパラメータのuser_idと認証済みユーザーIDの一致を確認する
// Ginミドルウェアを返す。JWTAuthの後に適用されることを前提とする。
// 比較は完全一致の文字列比較で、大文字小文字の同一視や部分一致は行わない。
func OwnerOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := GetUserID(c)
		if subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証に失敗しました",
			})
			return
		}

		if owner := c.Param("user_id"); owner != subject {
			log.Printf("ユーザーID不一致: token=%s, path=%s", subject, owner)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "このリソースへのアクセス権がありません",
			})
			return
		}

		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
