package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

// ChatStore is the slice of the conversation store the streaming pipeline
// depends on. *db.ChatRepository implements it.
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	ListMessages(ctx context.Context, userID, chatID string) ([]models.StoredMessage, error)
	AppendMessage(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error)
}

var ErrSessionBusy = errors.New("session: a stream session is already active")

// SessionState tracks one conversation view's submission lifecycle.
// Submissions are rejected unless the controller is idle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCreatingChat
	StateStreaming
	StatePersisting
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingChat:
		return "awaiting-chat-creation"
	case StateStreaming:
		return "streaming"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Update is the full snapshot republished to the view after every change.
// The assistant turn is replaced wholesale on each chunk, so the snapshot
// is always the view's single source of truth.
type Update struct {
	ChatID    string
	Messages  []models.Message
	Streaming bool
}

// SessionController drives one request/response cycle per Submit call:
// optimistic user append, provider streaming, incremental republish, and
// persistence of the finished question/answer pair.
type SessionController struct {
	store    ChatStore
	provider CompletionProvider
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	state    SessionState
	userID   string
	chatID   string
	messages []models.Message
}

func NewSessionController(store ChatStore, provider CompletionProvider, logger *zap.SugaredLogger, userID, chatID string, history []models.Message) *SessionController {
	return &SessionController{
		store:    store,
		provider: provider,
		logger:   logger,
		userID:   userID,
		chatID:   chatID,
		messages: append([]models.Message(nil), history...),
	}
}

// Submit runs one streaming session for userText. Empty or whitespace-only
// input is a silent no-op. publish (may be nil) receives a snapshot after
// the optimistic user append and after every received chunk.
func (c *SessionController) Submit(ctx context.Context, userText string, publish func(Update)) error {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	needChat := c.chatID == ""
	if needChat {
		c.state = StateCreatingChat
	} else {
		c.state = StateStreaming
	}
	c.mu.Unlock()

	defer c.setState(StateIdle)

	if needChat {
		chat, err := c.store.CreateChat(ctx, c.userID, deriveTitle(userText))
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		c.mu.Lock()
		c.chatID = chat.ID
		c.state = StateStreaming
		c.mu.Unlock()
	}

	// Optimistic update: the user's own message is visible before any
	// provider traffic.
	c.mu.Lock()
	c.messages = append(c.messages, models.Message{Role: models.RoleUser, Content: userText})
	assistantIdx := len(c.messages)
	c.mu.Unlock()
	c.publishSnapshot(publish, true)

	var accumulated strings.Builder
	history := c.snapshotMessages()

	err := c.provider.Stream(ctx, history, func(text string) error {
		accumulated.WriteString(text)

		c.mu.Lock()
		turn := models.Message{Role: models.RoleAssistant, Content: accumulated.String()}
		if assistantIdx < len(c.messages) {
			c.messages[assistantIdx] = turn
		} else {
			c.messages = append(c.messages, turn)
		}
		c.mu.Unlock()

		c.publishSnapshot(publish, true)
		return nil
	})
	if err != nil {
		// Partial output stays rendered; nothing is persisted for a
		// failed or cancelled stream.
		c.publishSnapshot(publish, false)
		return fmt.Errorf("stream completion: %w", err)
	}

	c.setState(StatePersisting)

	answer := strings.TrimSpace(accumulated.String())
	persistCtx := context.WithoutCancel(ctx)
	if _, err := c.store.AppendMessage(persistCtx, c.userID, c.chatID, userText, answer); err != nil {
		// Accepted inconsistency: the rendered conversation stays
		// authoritative for the view even when the write fails.
		c.logger.Warnf("persist message for chat %s failed: %v", c.chatID, err)
	}

	c.publishSnapshot(publish, false)
	return nil
}

// ChatID returns the confirmed chat id, empty until the store assigns one.
func (c *SessionController) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Messages returns a copy of the rendered message list.
func (c *SessionController) Messages() []models.Message {
	return c.snapshotMessages()
}

// IsLoading reports whether a session is in flight.
func (c *SessionController) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateIdle
}

func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SessionController) setState(state SessionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *SessionController) snapshotMessages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

func (c *SessionController) publishSnapshot(publish func(Update), streaming bool) {
	if publish == nil {
		return
	}

	c.mu.Lock()
	update := Update{
		ChatID:    c.chatID,
		Messages:  append([]models.Message(nil), c.messages...),
		Streaming: streaming,
	}
	c.mu.Unlock()

	publish(update)
}

const maxTitleRunes = 40

func deriveTitle(userText string) string {
	runes := []rune(userText)
	if len(runes) == 0 {
		return "New Chat"
	}
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return userText
}
