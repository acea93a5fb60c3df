package devissuer

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tasuku-app/tasuku/pkg/middleware"
)

// issuerName は発行するトークンのissクレーム値。
const issuerName = "tasuku-devissuer"

// tokenLifetime は発行するトークンの有効期間。
const tokenLifetime = 24 * time.Hour

// Server は開発用トークン発行サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// privateKey はトークン署名用のRSA秘密鍵。
	privateKey *rsa.PrivateKey
	// keyID は公開鍵を識別するkid。
	keyID string
}

// NewServer は新しい開発用トークン発行サーバーを生成する。
// RSA-2048の鍵ペアを生成するため、再起動のたびに鍵とkidが変わる。
func NewServer(port string) (*Server, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("RSA鍵ペアの生成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{"*"}))

	s := &Server{
		router:     router,
		port:       port,
		privateKey: privateKey,
		keyID:      uuid.New().String(),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	log.Printf("開発用トークン発行サービスを起動: kid=%s", s.keyID)
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行
	s.router.POST("/auth/dev-token", s.handleDevToken())
	// 公開鍵セット取得
	s.router.GET("/api/auth/jwks", s.handleJWKS())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devissuer"})
	})
}

// devTokenRequest はトークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// UserID はトークンのsubに設定するユーザーID。省略時は新規UUIDを割り当てる。
	UserID string `json:"user_id"`
}

// devTokenResponse はトークン発行レスポンスのJSON構造。
type devTokenResponse struct {
	// Token は署名済みのJWT。
	Token string `json:"token"`
	// UserID はトークンのsubに設定したユーザーID。
	UserID string `json:"user_id"`
	// ExpiresAt はトークンの有効期限（RFC3339）。
	ExpiresAt string `json:"expires_at"`
}

// handleDevToken は開発用トークンの発行を処理するハンドラを返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		// ボディなしのリクエストも許可する
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}

		userID := req.UserID
		if userID == "" {
			userID = uuid.New().String()
		}

		now := time.Now()
		expiresAt := now.Add(tokenLifetime)
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		})
		token.Header["kid"] = s.keyID

		signed, err := token.SignedString(s.privateKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの署名に失敗しました"})
			log.Printf("トークン署名エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, devTokenResponse{
			Token:     signed,
			UserID:    userID,
			ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// jwkResponse はJWKS内の1つの公開鍵のJSON構造。
type jwkResponse struct {
	// Kty は鍵種別（RSA固定）。
	Kty string `json:"kty"`
	// Use は鍵用途（sig固定）。
	Use string `json:"use"`
	// Alg は署名アルゴリズム（RS256固定）。
	Alg string `json:"alg"`
	// Kid は鍵の識別子。
	Kid string `json:"kid"`
	// N はRSA公開鍵のモジュラス（base64url）。
	N string `json:"n"`
	// E はRSA公開鍵の指数（base64url）。
	E string `json:"e"`
}

// handleJWKS は公開鍵セットの取得を処理するハンドラを返す。
func (s *Server) handleJWKS() gin.HandlerFunc {
	return func(c *gin.Context) {
		pub := &s.privateKey.PublicKey
		c.JSON(http.StatusOK, gin.H{
			"keys": []jwkResponse{{
				Kty: "RSA",
				Use: "sig",
				Alg: "RS256",
				Kid: s.keyID,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	}
}
