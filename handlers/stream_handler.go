package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/db"
	"github.com/zhangyw0810/llamatalk/internal/models"
	"github.com/zhangyw0810/llamatalk/services"
)

// StreamHandler drives one streaming session per request and republishes
// the incremental output to the browser as Server-Sent Events.
type StreamHandler struct {
	store    services.ChatStore
	provider services.CompletionProvider
	logger   *zap.SugaredLogger
}

func NewStreamHandler(store services.ChatStore, provider services.CompletionProvider, logger *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{store: store, provider: provider, logger: logger}
}

type streamRequest struct {
	ChatID   string               `json:"chat_id"`
	Messages []models.WireMessage `json:"messages"`
	Content  string               `json:"content"`
}

type chatEvent struct {
	ChatID string `json:"chat_id"`
}

type chunkEvent struct {
	Content string `json:"content"`
}

type doneEvent struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// HandleStream accepts {chat_id?, messages, content}, runs the session and
// streams SSE events: "chat" once the chat id is known, "chunk" with the
// full accumulated text after every received fragment, then "done" or
// "error".
func (h *StreamHandler) HandleStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		writeError(c, http.StatusBadRequest, "content is required", fmt.Errorf("empty content"))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "streaming unsupported", fmt.Errorf("response writer is not a flusher"))
		return
	}

	userID := c.Param("userId")

	// A supplied chat id must belong to the caller before any completion
	// traffic starts.
	if req.ChatID != "" {
		if _, err := h.store.ListMessages(c.Request.Context(), userID, req.ChatID); err != nil {
			if errors.Is(err, db.ErrChatNotFound) {
				writeError(c, http.StatusNotFound, "chat not found", err)
				return
			}
			h.logger.Warnf("verify chat ownership failed: %v", err)
			writeError(c, http.StatusInternalServerError, "failed to load chat", err)
			return
		}
	}

	history := models.NormalizeMessages(req.Messages)
	controller := services.NewSessionController(h.store, h.provider, h.logger, userID, req.ChatID, history)

	writer := newEventWriter(c.Writer, flusher)

	sentChat := req.ChatID != ""
	var lastText string
	publish := func(update services.Update) {
		if !sentChat && update.ChatID != "" {
			sentChat = true
			writer.write("chat", chatEvent{ChatID: update.ChatID})
		}

		text := assistantText(update.Messages)
		if update.Streaming && text != lastText {
			lastText = text
			writer.write("chunk", chunkEvent{Content: text})
		}
	}

	if err := controller.Submit(c.Request.Context(), req.Content, publish); err != nil {
		h.logger.Warnf("stream session failed: %v", err)
		writer.write("error", gin.H{"error": "stream failed", "details": err.Error()})
		return
	}

	writer.write("done", doneEvent{ChatID: controller.ChatID(), Content: strings.TrimSpace(lastText)})
}

// assistantText returns the content of the trailing assistant message, the
// turn being replaced wholesale on every chunk.
func assistantText(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleAssistant {
		return ""
	}
	return last.Content
}

// eventWriter frames SSE events. Multi-line payloads never occur here
// because every event body is a single JSON object.
type eventWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventWriter(w gin.ResponseWriter, flusher http.Flusher) *eventWriter {
	return &eventWriter{w: w, flusher: flusher}
}

func (e *eventWriter) write(event string, payload any) {
	if !e.started {
		e.started = true
		header := e.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	e.flusher.Flush()
}
