package task

import (
	"context"
	"database/sql"
)

// Queries はtasksテーブルへのクエリ実行オブジェクト。
// すべてのクエリはuser_idでスコープし、他ユーザーのタスクへの
// アクセスをSQLレベルでも遮断する。
type Queries struct {
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Task はtasksテーブルの1行を表す。
type Task struct {
	// ID はタスクの一意識別子（UUID）。
	ID string
	// UserID はタスクを所有するユーザーのID。
	UserID string
	// Title はタスクのタイトル。
	Title string
	// Description はタスクの詳細説明。
	Description string
	// Completed は完了状態。
	Completed bool
	// Priority は優先度（low/medium/high）。
	Priority string
	// DueDate は期限日（YYYY-MM-DD、未設定は空文字列）。
	DueDate string
	// CreatedAt は作成日時（RFC3339）。
	CreatedAt string
	// UpdatedAt は更新日時（RFC3339）。
	UpdatedAt string
}

// CreateTaskParams はタスク作成クエリのパラメータ。
type CreateTaskParams struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    string
	DueDate     string
	CreatedAt   string
	UpdatedAt   string
}

// CreateTask は新しいタスクを挿入する。
func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, completed, priority, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		arg.ID, arg.UserID, arg.Title, arg.Description, arg.Priority, arg.DueDate, arg.CreatedAt, arg.UpdatedAt,
	)
	return err
}

// GetTask は指定ユーザーが所有するタスクを1件取得する。
// 存在しない、または他ユーザーの所有物の場合はsql.ErrNoRowsを返す。
func (q *Queries) GetTask(ctx context.Context, userID, taskID string) (Task, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, completed, priority, due_date, created_at, updated_at
		FROM tasks
		WHERE id = ? AND user_id = ?`,
		taskID, userID,
	)

	var t Task
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListTasksByUserID は指定ユーザーの全タスクを作成日時の降順で取得する。
func (q *Queries) ListTasksByUserID(ctx context.Context, userID string) ([]Task, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, completed, priority, due_date, created_at, updated_at
		FROM tasks
		WHERE user_id = ?
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.DueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskParams はタスク更新クエリのパラメータ。
type UpdateTaskParams struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Completed   bool
	Priority    string
	DueDate     string
	UpdatedAt   string
}

// UpdateTask は指定ユーザーが所有するタスクの全フィールドを更新する。
func (q *Queries) UpdateTask(ctx context.Context, arg UpdateTaskParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		arg.Title, arg.Description, arg.Completed, arg.Priority, arg.DueDate, arg.UpdatedAt, arg.ID, arg.UserID,
	)
	return err
}

// DeleteTask は指定ユーザーが所有するタスクを削除する。
func (q *Queries) DeleteTask(ctx context.Context, userID, taskID string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE id = ? AND user_id = ?`,
		taskID, userID,
	)
	return err
}
