package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/issuetracker/internal/model"
)

// issueColumns はissuesテーブルのSELECT対象カラム。scanIssueと順序を合わせる。
const issueColumns = `id, title, description, priority, status, assigned_to, created_by, created_at`

// PostgresIssueRepo はPostgreSQLを使用した課題リポジトリ。
type PostgresIssueRepo struct {
	db *sql.DB
}

// NewPostgresIssueRepo はPostgresIssueRepoを生成する。
func NewPostgresIssueRepo(db *sql.DB) *PostgresIssueRepo {
	return &PostgresIssueRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanIssue は1行分の課題データを読み取る。
func scanIssue(s rowScanner) (*model.Issue, error) {
	is := &model.Issue{}
	var priority, status string
	if err := s.Scan(
		&is.ID, &is.Title, &is.Description,
		&priority, &status,
		&is.AssignedTo, &is.CreatedBy, &is.CreatedAt,
	); err != nil {
		return nil, err
	}
	is.Priority = model.Priority(priority)
	is.Status = model.Status(status)
	return is, nil
}

// Create は課題を作成する。
func (r *PostgresIssueRepo) Create(ctx context.Context, issue *model.Issue) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO issues (id, title, description, priority, status, assigned_to, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		issue.ID, issue.Title, issue.Description,
		string(issue.Priority), string(issue.Status),
		issue.AssignedTo, issue.CreatedBy, issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("課題の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
func (r *PostgresIssueRepo) FindByID(ctx context.Context, id string) (*model.Issue, error) {
	is, err := scanIssue(r.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("課題の取得に失敗しました: %w", err)
	}
	return is, nil
}

// ListAll は全課題をcreated_at降順で返す。
func (r *PostgresIssueRepo) ListAll(ctx context.Context) ([]model.Issue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	issues := []model.Issue{}
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("課題の読み取りに失敗しました: %w", err)
		}
		issues = append(issues, *is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("課題一覧の走査に失敗しました: %w", err)
	}

	return issues, nil
}

// UpdateStatus は現在のステータスがfromである場合に限りtoへ更新する。
// 読み取りから書き込みの間に他のユーザーが変更した場合はfalseを返す。
func (r *PostgresIssueRepo) UpdateStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE issues SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("課題ステータスの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ IssueRepository = (*PostgresIssueRepo)(nil)
