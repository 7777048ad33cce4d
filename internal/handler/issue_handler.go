package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/issuetracker/internal/issue"
	"github.com/hitoshi/issuetracker/internal/model"
)

// IssueServiceInterface は課題ハンドラーが必要とするサービスインターフェース。
type IssueServiceInterface interface {
	// Create は課題を作成する。類似課題がある場合は*model.SimilarIssuesErrorを返す。
	Create(ctx context.Context, actor model.Actor, in issue.CreateInput) (*model.Issue, error)
	// CheckSimilar はタイトルが類似する既存課題を返す。
	CheckSimilar(ctx context.Context, title string) ([]model.Issue, error)
	// List はフィルタ条件に一致する課題を作成日時の降順で返す。
	List(ctx context.Context, f model.IssueFilter) ([]model.Issue, error)
	// Get は指定IDの課題を返す。
	Get(ctx context.Context, id string) (*model.Issue, error)
	// UpdateStatus は遷移規則を検証したうえでステータスを変更する。
	UpdateStatus(ctx context.Context, actor model.Actor, id, status string) (*model.Issue, error)
}

// IssueHandler は課題管理のHTTPハンドラー。
type IssueHandler struct {
	service IssueServiceInterface
}

// NewIssueHandler はIssueHandlerを生成する。
func NewIssueHandler(service IssueServiceInterface) *IssueHandler {
	return &IssueHandler{
		service: service,
	}
}

// createIssueRequest は課題作成リクエストのボディ。
type createIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assignedTo"`
	Confirm     bool   `json:"confirm"`
}

// similarRequest は類似課題確認リクエストのボディ。
type similarRequest struct {
	Title string `json:"title"`
}

// updateStatusRequest はステータス変更リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// issueResponse は課題のAPIレスポンス。
type issueResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	AssignedTo  string    `json:"assignedTo"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListIssues は課題一覧を返す。
// GET /api/issues?status=Open&priority=All&q=login
func (h *IssueHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := issue.ParseFilter(q.Get("status"), q.Get("priority"), q.Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issues, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponses(issues))
}

// CreateIssue は課題を作成する。
// POST /api/issues
// confirmがfalseで類似課題がある場合は409で類似課題を返し、何も作成しない。
func (h *IssueHandler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := resolveActor(w, r)
	if !ok {
		return
	}

	var req createIssueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), actor, issue.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		Confirm:     req.Confirm,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIssueResponse(created))
}

// CheckSimilar は作成前の重複確認を行う。
// POST /api/issues/similar
func (h *IssueHandler) CheckSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	similar, err := h.service.CheckSimilar(r.Context(), req.Title)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"similar": toIssueResponses(similar),
	})
}

// GetIssue は課題詳細を返す。
// GET /api/issues/{id}
func (h *IssueHandler) GetIssue(w http.ResponseWriter, r *http.Request) {
	is, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(is))
}

// UpdateStatus は課題のステータスを変更する。
// PATCH /api/issues/{id}/status
// 許可されない遷移は422を返す。
func (h *IssueHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := resolveActor(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(updated))
}

// --- ヘルパー関数 ---

// toIssueResponse はmodel.IssueからAPIレスポンスに変換する。
func toIssueResponse(is *model.Issue) issueResponse {
	return issueResponse{
		ID:          is.ID,
		Title:       is.Title,
		Description: is.Description,
		Priority:    string(is.Priority),
		Status:      string(is.Status),
		AssignedTo:  is.AssignedTo,
		CreatedBy:   is.CreatedBy,
		CreatedAt:   is.CreatedAt,
	}
}

// toIssueResponses は課題のスライスをAPIレスポンスに変換する。nilの場合も空配列を返す。
func toIssueResponses(issues []model.Issue) []issueResponse {
	out := make([]issueResponse, 0, len(issues))
	for i := range issues {
		out = append(out, toIssueResponse(&issues[i]))
	}
	return out
}
