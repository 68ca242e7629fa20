package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docvisionai/backend/internal/service/qa"
	"github.com/docvisionai/backend/pkg/logger"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler answers questions over a WebSocket connection
type WebSocketHandler struct {
	asker       StreamAsker
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(asker StreamAsker) *WebSocketHandler {
	return &WebSocketHandler{
		asker:       asker,
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ServeHTTP 处理WebSocket连接；每个 ask 消息按顺序处理
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})
	go pingLoop(ctx, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case "ask":
			h.handleAsk(ctx, log, conn, msg.Data)
		default:
			sendError(conn, "unsupported message type: "+msg.Type)
		}

		// 回答期间没有读取 pong，截止时间从处理结束后重新计算
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *WebSocketHandler) handleAsk(ctx context.Context, log *slog.Logger, conn *websocket.Conn, raw json.RawMessage) {
	var req qa.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		sendError(conn, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		sendError(conn, err.Error())
		return
	}

	answer, err := h.asker.AskStream(ctx, req, func(delta string) error {
		return send(conn, outgoingMessage{Type: "delta", Data: map[string]string{"content": delta}})
	})
	if err != nil {
		log.Error("websocket ask failed", "error", err, "user_id", req.UserID, "patient_id", req.PatientID)
		sendError(conn, err.Error())
		return
	}

	_ = send(conn, outgoingMessage{
		Type:      "message",
		SessionID: answer.SessionID,
		Data:      map[string]string{"content": answer.Reply},
	})
}

func send(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func sendError(conn *websocket.Conn, message string) {
	if err := send(conn, outgoingMessage{Type: "error", Data: map[string]string{"message": message}}); err != nil {
		slog.Debug("websocket write error failed", "error", err)
	}
}

// pingLoop 定期发送ping消息；WriteControl 可与其他写操作并发
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
