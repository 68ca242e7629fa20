package ask

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/service/qa"
	"github.com/docvisionai/backend/internal/store"
	"github.com/docvisionai/backend/pkg/logger"
	"github.com/docvisionai/backend/pkg/utils"
)

// Asker 回答放射科医生的问题
type Asker interface {
	Ask(ctx context.Context, req qa.Request) (qa.Answer, error)
}

// Conversations 提供会话与报告的只读视图
type Conversations interface {
	LatestSession(ctx context.Context, userID, patientID string) (chat.Session, error)
	Reports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error)
}

// Handler 报告问答的HTTP处理器
type Handler struct {
	asker         Asker
	conversations Conversations
}

// New 创建问答处理器
func New(asker Asker, conversations Conversations) *Handler {
	return &Handler{asker: asker, conversations: conversations}
}

// RegisterRoutes 注册问答相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask_ai", h.handleAsk)
	r.Get("/patients/{patientID}/reports", h.handleListReports)
	r.Get("/users/{userID}/patients/{patientID}/conversation", h.handleConversation)
}

// DecodeRequest 解析问答请求体；错误信息可直接返回给客户端
func DecodeRequest(r *http.Request) (qa.Request, error) {
	var req qa.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return qa.Request{}, errors.New("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return qa.Request{}, err
	}
	return req, nil
}

// handleAsk 回答问题，结果以纯文本返回
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	req, err := DecodeRequest(r)
	if err != nil {
		log.Warn("rejected ask_ai request", "error", err)
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info("received ask_ai request", "user_id", req.UserID, "patient_id", req.PatientID)
	answer, err := h.asker.Ask(r.Context(), req)
	if err != nil {
		if qa.IsValidation(err) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("ask_ai failed", "error", err, "user_id", req.UserID, "patient_id", req.PatientID)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondText(w, http.StatusOK, answer.Reply)
}

// handleListReports 返回患者的全部放射报告
func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(chi.URLParam(r, "patientID"))
	if patientID == "" {
		utils.RespondError(w, http.StatusBadRequest, "patientID is required")
		return
	}

	reports, err := h.conversations.Reports(r.Context(), patientID, nil)
	if err != nil {
		logger.FromContext(r.Context()).Error("list reports failed", "error", err, "patient_id", patientID)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []report.RadiologyReport{}
	}
	utils.RespondJSON(w, http.StatusOK, reports)
}

// handleConversation 返回最近的会话；只读，不会创建新会话
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	patientID := strings.TrimSpace(chi.URLParam(r, "patientID"))
	if userID == "" || patientID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID and patientID are required")
		return
	}

	session, err := h.conversations.LatestSession(r.Context(), userID, patientID)
	if errors.Is(err, store.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "no conversation found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("load conversation failed", "error", err, "user_id", userID, "patient_id", patientID)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session.Messages == nil {
		session.Messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, session)
}
