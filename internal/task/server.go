package task

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tasuku-app/tasuku/internal/auth"
	"github.com/tasuku-app/tasuku/pkg/middleware"
	"github.com/tasuku-app/tasuku/pkg/migration"
)

// タイトルと説明の最大文字数。フロントエンドの入力制限と同期すること。
const (
	maxTitleLength       = 500
	maxDescriptionLength = 5000
)

// Server はタスクAPIサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はtasksテーブルへのクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// verifier はJWTトークンの検証オブジェクト。
	verifier *auth.Verifier
}

// NewServer は新しいタスクAPIサーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション適用、
// JWKSベースのトークン検証の設定を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("TASK_DB_PATH", "/data/tasks.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := migration.Run(sqlDB, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("マイグレーション適用に失敗: %w", err)
	}

	jwksURL := getEnvOr("JWKS_URL", "http://localhost:3000/api/auth/jwks")
	verifier := auth.NewVerifier(auth.NewKeySet(jwksURL))

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(corsOrigins()))

	s := &Server{
		router:   router,
		port:     port,
		queries:  NewQueries(sqlDB),
		db:       sqlDB,
		verifier: verifier,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// corsOrigins はCORSで許可するオリジンのリストを返す。
// 開発環境ではすべてのオリジンを許可し、本番環境ではフロントエンドのURLのみ許可する。
func corsOrigins() []string {
	if strings.EqualFold(getEnvOr("ENVIRONMENT", "development"), "development") {
		return []string{"*"}
	}
	return []string{getEnvOr("FRONTEND_URL", "http://localhost:3000")}
}

// setupRoutes はAPIルーティングを設定する。
// 保護対象のルートはすべてトークン検証（401）と所有者確認（403）を通過する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(middleware.JWTAuth(s.verifier))
	{
		users := api.Group("/users/:user_id")
		users.Use(middleware.OwnerOnly())
		{
			tasks := users.Group("/tasks")
			{
				// タスク作成
				tasks.POST("", s.handleCreate())
				// タスク一覧取得
				tasks.GET("", s.handleList())
				// タスク詳細取得
				tasks.GET("/:task_id", s.handleGetByID())
				// タスク全体更新
				tasks.PUT("/:task_id", s.handleUpdate())
				// タスク部分更新
				tasks.PATCH("/:task_id", s.handlePatch())
				// タスク削除
				tasks.DELETE("/:task_id", s.handleDelete())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "task"})
	})
}

// createTaskRequest はタスク作成リクエストのJSON構造。
type createTaskRequest struct {
	// Title はタスクのタイトル。
	Title string `json:"title" binding:"required"`
	// Description はタスクの詳細説明。
	Description string `json:"description"`
	// Priority は優先度（low/medium/high、省略時はmedium）。
	Priority string `json:"priority"`
	// DueDate は期限日（YYYY-MM-DD）。
	DueDate string `json:"due_date"`
}

// updateTaskRequest はタスク全体更新リクエストのJSON構造。
// PUTは全フィールドの置き換えとして扱う。
type updateTaskRequest struct {
	// Title はタスクのタイトル。
	Title string `json:"title" binding:"required"`
	// Description はタスクの詳細説明。
	Description string `json:"description"`
	// Completed は完了状態。
	Completed *bool `json:"completed" binding:"required"`
	// Priority は優先度（low/medium/high）。
	Priority string `json:"priority"`
	// DueDate は期限日（YYYY-MM-DD）。
	DueDate string `json:"due_date"`
}

// patchTaskRequest はタスク部分更新リクエストのJSON構造。
// nilのフィールドは更新しない。
type patchTaskRequest struct {
	// Title はタスクのタイトル。
	Title *string `json:"title"`
	// Description はタスクの詳細説明。
	Description *string `json:"description"`
	// Completed は完了状態。
	Completed *bool `json:"completed"`
	// Priority は優先度（low/medium/high）。
	Priority *string `json:"priority"`
	// DueDate は期限日（YYYY-MM-DD）。
	DueDate *string `json:"due_date"`
}

// taskResponse はタスクのJSONレスポンス構造。
type taskResponse struct {
	// ID はタスクの一意識別子。
	ID string `json:"id"`
	// UserID はタスクを所有するユーザーのID。
	UserID string `json:"user_id"`
	// Title はタスクのタイトル。
	Title string `json:"title"`
	// Description はタスクの詳細説明。
	Description string `json:"description"`
	// Completed は完了状態。
	Completed bool `json:"completed"`
	// Priority は優先度。
	Priority string `json:"priority"`
	// DueDate は期限日（未設定は空文字列）。
	DueDate string `json:"due_date"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toTaskResponse はDB行をJSONレスポンスに変換する。
func toTaskResponse(t Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// validateTitle はタイトルを検証して正規化する。
// 前後の空白を除去し、空または最大文字数超過はエラーとする。
func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", errors.New("タイトルは空にできません")
	}
	if len([]rune(trimmed)) > maxTitleLength {
		return "", fmt.Errorf("タイトルは%d文字以内で指定してください", maxTitleLength)
	}
	return trimmed, nil
}

// validateDescription は説明の最大文字数を検証する。
func validateDescription(description string) error {
	if len([]rune(description)) > maxDescriptionLength {
		return fmt.Errorf("説明は%d文字以内で指定してください", maxDescriptionLength)
	}
	return nil
}

// validatePriority は優先度を検証して正規化する。
// 空の場合はmediumを返す。
func validatePriority(priority string) (string, error) {
	if priority == "" {
		return "medium", nil
	}
	p := strings.ToLower(priority)
	switch p {
	case "low", "medium", "high":
		return p, nil
	}
	return "", errors.New("優先度はlow、medium、highのいずれかを指定してください")
}

// validateDueDate は期限日の形式（YYYY-MM-DD）を検証する。空は未設定として許可する。
func validateDueDate(dueDate string) error {
	if dueDate == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", dueDate); err != nil {
		return errors.New("期限日はYYYY-MM-DD形式で指定してください")
	}
	return nil
}

// nowRFC3339 は現在時刻をUTCのRFC3339形式で返す。
// created_at/updated_atはこの形式で保存するため、文字列比較がそのまま時刻順になる。
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// handleCreate はタスク作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var req createTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		title, err := validateTitle(req.Title)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validateDescription(req.Description); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		priority, err := validatePriority(req.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validateDueDate(req.DueDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		taskID := uuid.New().String()
		now := nowRFC3339()
		if err := s.queries.CreateTask(c.Request.Context(), CreateTaskParams{
			ID:          taskID,
			UserID:      userID,
			Title:       title,
			Description: req.Description,
			Priority:    priority,
			DueDate:     req.DueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの作成に失敗しました"})
			log.Printf("タスク作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetTask(c.Request.Context(), userID, taskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成したタスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toTaskResponse(created))
	}
}

// handleList はユーザーのタスク一覧取得を処理するハンドラを返す。
// タスクは作成日時の降順で返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		tasks, err := s.queries.ListTasksByUserID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスク一覧の取得に失敗しました"})
			log.Printf("タスク一覧取得エラー: %v", err)
			return
		}

		responses := make([]taskResponse, 0, len(tasks))
		for _, t := range tasks {
			responses = append(responses, toTaskResponse(t))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID はタスク詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		taskID := c.Param("task_id")

		t, err := s.queries.GetTask(c.Request.Context(), userID, taskID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toTaskResponse(t))
	}
}

// handleUpdate はタスク全体更新（PUT）を処理するハンドラを返す。
// すべてのフィールドをリクエストの値で置き換える。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		taskID := c.Param("task_id")

		// タスクの存在確認
		if _, err := s.queries.GetTask(c.Request.Context(), userID, taskID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		var req updateTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		title, err := validateTitle(req.Title)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validateDescription(req.Description); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		priority, err := validatePriority(req.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validateDueDate(req.DueDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.queries.UpdateTask(c.Request.Context(), UpdateTaskParams{
			ID:          taskID,
			UserID:      userID,
			Title:       title,
			Description: req.Description,
			Completed:   *req.Completed,
			Priority:    priority,
			DueDate:     req.DueDate,
			UpdatedAt:   nowRFC3339(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの更新に失敗しました"})
			log.Printf("タスク更新エラー: %v", err)
			return
		}

		updated, err := s.queries.GetTask(c.Request.Context(), userID, taskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後のタスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toTaskResponse(updated))
	}
}

// handlePatch はタスク部分更新（PATCH）を処理するハンドラを返す。
// リクエストに含まれるフィールドのみ更新し、他は現在の値を維持する。
func (s *Server) handlePatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		taskID := c.Param("task_id")

		current, err := s.queries.GetTask(c.Request.Context(), userID, taskID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		var req patchTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		title := current.Title
		if req.Title != nil {
			title, err = validateTitle(*req.Title)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		description := current.Description
		if req.Description != nil {
			if err := validateDescription(*req.Description); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			description = *req.Description
		}
		completed := current.Completed
		if req.Completed != nil {
			completed = *req.Completed
		}
		priority := current.Priority
		if req.Priority != nil {
			priority, err = validatePriority(*req.Priority)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		dueDate := current.DueDate
		if req.DueDate != nil {
			if err := validateDueDate(*req.DueDate); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			dueDate = *req.DueDate
		}

		if err := s.queries.UpdateTask(c.Request.Context(), UpdateTaskParams{
			ID:          taskID,
			UserID:      userID,
			Title:       title,
			Description: description,
			Completed:   completed,
			Priority:    priority,
			DueDate:     dueDate,
			UpdatedAt:   nowRFC3339(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの更新に失敗しました"})
			log.Printf("タスク部分更新エラー: %v", err)
			return
		}

		updated, err := s.queries.GetTask(c.Request.Context(), userID, taskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後のタスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toTaskResponse(updated))
	}
}

// handleDelete はタスク削除を処理するハンドラを返す。
// 削除に成功した場合は204を返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		taskID := c.Param("task_id")

		// タスクの存在確認
		if _, err := s.queries.GetTask(c.Request.Context(), userID, taskID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの取得に失敗しました"})
			log.Printf("タスク取得エラー: %v", err)
			return
		}

		if err := s.queries.DeleteTask(c.Request.Context(), userID, taskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの削除に失敗しました"})
			log.Printf("タスク削除エラー: %v", err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
