package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docvisionai/backend/internal/handler/ask"
	"github.com/docvisionai/backend/internal/handler/health"
	"github.com/docvisionai/backend/internal/handler/predict"
	"github.com/docvisionai/backend/internal/handler/stream"
	middlewarePkg "github.com/docvisionai/backend/internal/middleware"
	"github.com/docvisionai/backend/internal/service/qa"
)

// QADeps 报告问答服务依赖
type QADeps struct {
	Logger        *slog.Logger
	QA            *qa.Service
	Conversations ask.Conversations
	Store         health.Checker
}

// NewQARouter wires the report Q&A routes.
func NewQARouter(deps QADeps) http.Handler {
	r := newBaseRouter(deps.Logger)

	health.New("store", deps.Store).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		ask.New(deps.QA, deps.Conversations).RegisterRoutes(api)
		stream.New(deps.QA).RegisterRoutes(api)
	})

	return r
}

// NewPredictRouter wires the pneumonia inference routes.
func NewPredictRouter(logger *slog.Logger, predictor predict.Predictor, maxUpload int64) http.Handler {
	r := newBaseRouter(logger)

	// 模型在启动时加载，加载失败进程直接退出，因此只提供存活探针
	health.New("model", nil).RegisterLiveness(r)
	predict.New(predictor, maxUpload).RegisterRoutes(r)

	return r
}

func newBaseRouter(logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	return r
}
