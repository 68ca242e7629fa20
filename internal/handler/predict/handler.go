package predict

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docvisionai/backend/internal/service/inference"
	"github.com/docvisionai/backend/pkg/logger"
	"github.com/docvisionai/backend/pkg/utils"
)

// Predictor 对上传的X光片进行分类
type Predictor interface {
	Predict(ctx context.Context, imageBytes []byte) (inference.Prediction, error)
}

// Handler 肺炎检测的HTTP处理器
type Handler struct {
	predictor Predictor
	maxUpload int64
}

// New 创建检测处理器；maxUpload 限制 multipart 请求体大小
func New(predictor Predictor, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{predictor: predictor, maxUpload: maxUpload}
}

// RegisterRoutes 注册检测路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/predict", h.handlePredict)
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		log.Warn("no image provided in request", "error", err)
		utils.RespondError(w, http.StatusBadRequest, "No image provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error("failed to read upload", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	log.Info("received image", "filename", header.Filename, "bytes", len(data))

	prediction, err := h.predictor.Predict(r.Context(), data)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, prediction)
	case errors.Is(err, inference.ErrNoImage):
		utils.RespondError(w, http.StatusBadRequest, "No image provided")
	case errors.Is(err, inference.ErrNotGrayscale):
		utils.RespondError(w, http.StatusBadRequest, "Uploaded file is not a grayscale image")
	default:
		log.Error("error during prediction", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
