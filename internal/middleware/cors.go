package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 放开浏览器端跨域访问；前端与 API 部署在不同域名下。
var CORS = cors.Handler(cors.Options{
	AllowedOrigins:   []string{"https://*", "http://*"},
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
	ExposedHeaders:   []string{"X-Request-Id"},
	AllowCredentials: false,
	MaxAge:           300,
})
