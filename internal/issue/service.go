package issue

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/issuetracker/internal/model"
	"github.com/hitoshi/issuetracker/internal/repository"
)

const (
	// maxTitleLength はタイトルの最大文字数。
	maxTitleLength = 200
	// maxDescriptionLength は説明の最大文字数。
	maxDescriptionLength = 10000
	// maxStatusUpdateAttempts は同時更新と競合した場合のステータス更新の試行回数。
	maxStatusUpdateAttempts = 3
)

// Sanitizer はユーザー入力のテキストからHTMLを除去するインターフェース。
type Sanitizer interface {
	Sanitize(s string) string
	// Lossy は除去によってタグ以外の本文まで失われる入力かどうかを返す。
	Lossy(s string) bool
}

// EventPublisher は課題イベントの外部通知インターフェース。
// Publishはブロックしてはならない。
type EventPublisher interface {
	Publish(ctx context.Context, ev model.IssueEvent)
}

// Refresher はリアルタイム一覧の再読み込みを要求するインターフェース。
type Refresher interface {
	RequestRefresh()
}

// MetricsRecorder は課題操作のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordIssueCreated()
	RecordDuplicateWarning()
	RecordTransition(accepted bool)
}

// CreateInput は課題作成の入力値。
type CreateInput struct {
	Title       string
	Description string
	Priority    string
	AssignedTo  string
	// Confirm がtrueの場合は類似課題の警告を省略して作成する。
	Confirm bool
}

// Service は課題管理のサービス層。
// 作成時の重複警告とステータス遷移の検証を行い、変更をリアルタイム一覧と外部通知へ伝える。
type Service struct {
	repo      repository.IssueRepository
	sanitizer Sanitizer
	events    EventPublisher
	refresher Refresher
	recorder  MetricsRecorder
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// sanitizer以外の依存はnilを許容し、その場合は該当する処理を行わない。
func NewService(
	repo repository.IssueRepository,
	sanitizer Sanitizer,
	events EventPublisher,
	refresher Refresher,
	recorder MetricsRecorder,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		events:    events,
		refresher: refresher,
		recorder:  recorder,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create は課題を作成する。
// Confirmがfalseで類似タイトルの既存課題がある場合は作成せず*model.SimilarIssuesErrorを返す。
// ステータスは常にOpen、優先度の既定値はMedium、担当者の既定値は作成者となる。
func (s *Service) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Issue, error) {
	// 黙って本文を切り詰めず、入力し直してもらう
	if s.sanitizer != nil && (s.sanitizer.Lossy(in.Title) || s.sanitizer.Lossy(in.Description)) {
		return nil, model.NewInvalidIssueError("閉じられていないタグがあります。記号の「<」は直後に空白を入れてください。")
	}

	title := s.clean(in.Title)
	description := s.clean(in.Description)

	if title == "" {
		return nil, model.NewInvalidIssueError("タイトルを入力してください。")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewInvalidIssueError(fmt.Sprintf("タイトルは%d文字以内で入力してください。", maxTitleLength))
	}
	if description == "" {
		return nil, model.NewInvalidIssueError("説明を入力してください。")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, model.NewInvalidIssueError(fmt.Sprintf("説明は%d文字以内で入力してください。", maxDescriptionLength))
	}

	priority := model.PriorityMedium
	if in.Priority != "" {
		p, ok := model.ParsePriority(in.Priority)
		if !ok {
			return nil, model.NewInvalidPriorityError(in.Priority)
		}
		priority = p
	}

	assignee := actor.Email
	if a := strings.TrimSpace(in.AssignedTo); a != "" {
		addr, err := mail.ParseAddress(a)
		if err != nil || addr.Address != a {
			return nil, model.NewInvalidEmailError(a)
		}
		assignee = strings.ToLower(a)
	}

	if !in.Confirm {
		similar, err := s.CheckSimilar(ctx, title)
		if err != nil {
			return nil, err
		}
		if len(similar) > 0 {
			if s.recorder != nil {
				s.recorder.RecordDuplicateWarning()
			}
			return nil, model.NewSimilarIssuesError(similar)
		}
	}

	is := &model.Issue{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      model.StatusOpen,
		AssignedTo:  assignee,
		CreatedBy:   actor.Email,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, is); err != nil {
		return nil, fmt.Errorf("課題の保存に失敗しました: %w", err)
	}

	slog.Info("課題を作成しました",
		slog.String("issue_id", is.ID),
		slog.String("created_by", is.CreatedBy),
		slog.Bool("confirmed", in.Confirm),
	)

	if s.recorder != nil {
		s.recorder.RecordIssueCreated()
	}
	s.changed(ctx, model.IssueEvent{
		Type:       model.IssueEventCreated,
		Issue:      *is,
		Actor:      actor.Email,
		OccurredAt: is.CreatedAt,
	})

	return is, nil
}

// CheckSimilar は既存課題のうちタイトルが類似するものを返す。
func (s *Service) CheckSimilar(ctx context.Context, title string) ([]model.Issue, error) {
	existing, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("既存課題の取得に失敗しました: %w", err)
	}
	return FindSimilar(s.clean(title), existing), nil
}

// List はフィルタ条件に一致する課題をcreated_at降順で返す。
func (s *Service) List(ctx context.Context, f model.IssueFilter) ([]model.Issue, error) {
	issues, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}
	return Filter(issues, f), nil
}

// Get は指定IDの課題を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Issue, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewIssueNotFoundError(id)
	}
	is, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("課題の取得に失敗しました: %w", err)
	}
	if is == nil {
		return nil, model.NewIssueNotFoundError(id)
	}
	return is, nil
}

// UpdateStatus は課題のステータスを変更する。
// 遷移が許可されない場合はINVALID_STATUS_TRANSITIONを返し、何も書き込まない。
// 読み取り後に他のユーザーがステータスを変更していた場合は最新の値で検証し直す。
func (s *Service) UpdateStatus(ctx context.Context, actor model.Actor, id, status string) (*model.Issue, error) {
	proposed, ok := model.ParseStatus(status)
	if !ok {
		return nil, model.NewInvalidStatusError(status)
	}

	for attempt := 1; attempt <= maxStatusUpdateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if !IsValidTransition(current.Status, proposed) {
			if s.recorder != nil {
				s.recorder.RecordTransition(false)
			}
			return nil, model.NewInvalidStatusTransitionError(current.Status, proposed)
		}
		if current.Status == proposed {
			return current, nil
		}

		updated, err := s.repo.UpdateStatus(ctx, id, current.Status, proposed)
		if err != nil {
			return nil, fmt.Errorf("ステータスの更新に失敗しました: %w", err)
		}
		if !updated {
			slog.Debug("ステータス更新が競合したため再試行します",
				slog.String("issue_id", id),
				slog.Int("attempt", attempt),
			)
			continue
		}

		previous := current.Status
		current.Status = proposed

		slog.Info("課題のステータスを変更しました",
			slog.String("issue_id", id),
			slog.String("from", string(previous)),
			slog.String("to", string(proposed)),
			slog.String("actor", actor.Email),
		)

		if s.recorder != nil {
			s.recorder.RecordTransition(true)
		}
		s.changed(ctx, model.IssueEvent{
			Type:           model.IssueEventStatusChanged,
			Issue:          *current,
			PreviousStatus: previous,
			Actor:          actor.Email,
			OccurredAt:     s.now().UTC(),
		})
		return current, nil
	}

	return nil, fmt.Errorf("ステータスの更新が%d回競合しました: %s", maxStatusUpdateAttempts, id)
}

// clean はHTMLを除去し前後の空白を取り除く。
func (s *Service) clean(v string) string {
	if s.sanitizer != nil {
		v = s.sanitizer.Sanitize(v)
	}
	return strings.TrimSpace(v)
}

// changed はリアルタイム一覧の再読み込みと外部通知を行う。
func (s *Service) changed(ctx context.Context, ev model.IssueEvent) {
	if s.refresher != nil {
		s.refresher.RequestRefresh()
	}
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}
