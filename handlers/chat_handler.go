package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/db"
	"github.com/zhangyw0810/llamatalk/services"
)

// ChatHandler exposes the conversation store over REST.
type ChatHandler struct {
	store  services.ChatStore
	logger *zap.SugaredLogger

	// now is swappable in tests of the grouped listing.
	now func() time.Time
}

func NewChatHandler(store services.ChatStore, logger *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{store: store, logger: logger, now: time.Now}
}

type createChatRequest struct {
	Title string `json:"title"`
}

type appendMessageRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// HandleListChats responds with the user's chats ordered by creation time.
func (h *ChatHandler) HandleListChats(c *gin.Context) {
	chats, err := h.store.ListChats(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.logger.Warnf("list chats failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to list chats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// HandleGroupedChats responds with chats bucketed by creation date for the
// sidebar (Today, Yesterday, Previous 7 Days, ...).
func (h *ChatHandler) HandleGroupedChats(c *gin.Context) {
	chats, err := h.store.ListChats(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.logger.Warnf("list chats failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to list chats", err)
		return
	}

	groups := services.GroupChats(h.now(), chats)
	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"order":  services.GroupLabels(groups),
	})
}

// HandleCreateChat creates a chat and responds with the assigned id.
func (h *ChatHandler) HandleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Chat"
	}

	chat, err := h.store.CreateChat(c.Request.Context(), c.Param("userId"), title)
	if err != nil {
		h.logger.Warnf("create chat failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to create chat", err)
		return
	}

	c.JSON(http.StatusCreated, chat)
}

// HandleListMessages responds with the chat's persisted question/answer
// pairs in arrival order.
func (h *ChatHandler) HandleListMessages(c *gin.Context) {
	messages, err := h.store.ListMessages(c.Request.Context(), c.Param("userId"), c.Param("chatId"))
	if err != nil {
		if errors.Is(err, db.ErrChatNotFound) {
			writeError(c, http.StatusNotFound, "chat not found", err)
			return
		}
		h.logger.Warnf("list messages failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to list messages", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// HandleAppendMessage persists one question/answer pair.
func (h *ChatHandler) HandleAppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(c, http.StatusBadRequest, "question is required", errors.New("empty question"))
		return
	}

	msg, err := h.store.AppendMessage(c.Request.Context(), c.Param("userId"), c.Param("chatId"), req.Question, req.Answer)
	if err != nil {
		if errors.Is(err, db.ErrChatNotFound) {
			writeError(c, http.StatusNotFound, "chat not found", err)
			return
		}
		h.logger.Warnf("append message failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to append message", err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
