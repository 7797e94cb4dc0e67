package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 桌面端 UI 从 file:// 或本机端口加载，跨源检查放开
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type  string `json:"type"` // "delta" | "result" | "error"
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
	*AssistantResponse
}

const wsWriteTimeout = 10 * time.Second

// HandleWS serves GET /api/assistant/ws. Each client text frame is one
// AssistantRequest; the reply streams back as delta frames followed by a
// result frame. Frames for one request are strictly ordered, requests are
// processed one at a time per connection.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket 升级失败", "error", err)
		return
	}
	defer conn.Close()

	send := func(frame wsFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			slog.Debug("websocket 写失败", "error", err)
			return false
		}
		return true
	}

	for {
		var req AssistantRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket 异常关闭", "error", err)
			}
			return
		}

		resp, err := h.Execute(r.Context(), &req, func(delta string) {
			send(wsFrame{Type: "delta", Delta: delta})
		})
		if err != nil {
			if !send(wsFrame{Type: "error", Error: err.Error()}) {
				return
			}
			continue
		}
		if !send(wsFrame{Type: "result", AssistantResponse: resp}) {
			return
		}
	}
}
