package handler

import (
	"encoding/json"
	"errors"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/internal/service"
	"invoice-assistant-go/pkg/log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理聊天请求，支持 REST 与 WebSocket 两种入口。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
	}
}

// SendMessageRequest 定义了发送聊天消息 API 的请求体结构。
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage 处理一条聊天消息并返回回复与结构化结果。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "消息不能为空", "data": nil})
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), user, req.Message)
	if err != nil {
		status, msg := chatErrorStatus(err)
		log.Errorf("处理聊天消息失败, user: %s, error: %v", user.Username, err)
		c.JSON(status, gin.H{"code": status, "message": msg, "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": reply})
}

func chatErrorStatus(err error) (int, string) {
	if errors.Is(err, repository.ErrTurnLockTimeout) {
		return http.StatusConflict, "上一条消息仍在处理中，请稍后重试"
	}
	return http.StatusInternalServerError, "AI服务暂时不可用，请稍后重试"
}

// wsFrame 是 WebSocket 上每轮对话下发的一帧。
type wsFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Handle 处理一个传入的 WebSocket 连接。连接上的消息依次处理，每条消息回复一帧。
func (h *ChatHandler) Handle(c *gin.Context) {
	user, _, err := h.userService.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		message := parseWSMessage(raw)
		if message == "" {
			writeFrame(conn, wsFrame{Type: "error", Message: "消息不能为空"})
			continue
		}

		reply, err := h.chatService.SendMessage(c.Request.Context(), user, message)
		if err != nil {
			_, msg := chatErrorStatus(err)
			log.Errorf("处理聊天消息失败, user: %s, error: %v", user.Username, err)
			writeFrame(conn, wsFrame{Type: "error", Message: msg})
			continue
		}
		if err := writeFrame(conn, wsFrame{Type: "reply", Data: reply}); err != nil {
			log.Warnf("写入 WebSocket 消息失败: %v", err)
			break
		}
	}
}

// parseWSMessage 接受 {"message":"..."} 或纯文本。
func parseWSMessage(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var req SendMessageRequest
		if err := json.Unmarshal(raw, &req); err == nil {
			return strings.TrimSpace(req.Message)
		}
	}
	return text
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
