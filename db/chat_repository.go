package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

var ErrChatNotFound = errors.New("db: chat not found")

// ChatRepository is the postgres-backed conversation store. When an archive
// is attached, persisted turns are mirrored into it best effort.
type ChatRepository struct {
	pool    *pgxpool.Pool
	archive *Mongo
	logger  *zap.SugaredLogger
}

func NewChatRepository(pool *pgxpool.Pool, archive *Mongo, logger *zap.SugaredLogger) *ChatRepository {
	return &ChatRepository{pool: pool, archive: archive, logger: logger}
}

func (r *ChatRepository) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	chat := &models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	const query = `INSERT INTO chats (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, query, chat.ID, chat.UserID, chat.Title, chat.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	return chat, nil
}

func (r *ChatRepository) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	const query = `SELECT id, user_id, title, created_at FROM chats WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	return chats, nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, userID, chatID string) ([]models.StoredMessage, error) {
	if err := r.ownChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	const query = `SELECT id, chat_id, question, answer, created_at FROM messages WHERE chat_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.StoredMessage, 0)
	for rows.Next() {
		var msg models.StoredMessage
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Question, &msg.Answer, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (r *ChatRepository) AppendMessage(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
	if err := r.ownChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	msg := &models.StoredMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}

	const query = `INSERT INTO messages (id, chat_id, question, answer, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, msg.ID, msg.ChatID, msg.Question, msg.Answer, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if r.archive != nil {
		if err := r.archive.ArchiveMessage(ctx, userID, chatID, question, answer, msg.CreatedAt); err != nil {
			r.logger.Warnf("archive message failed: %v", err)
		}
	}

	return msg, nil
}

// ownChat verifies the chat exists and belongs to the user.
func (r *ChatRepository) ownChat(ctx context.Context, userID, chatID string) error {
	const query = `SELECT 1 FROM chats WHERE id = $1 AND user_id = $2`
	var one int
	if err := r.pool.QueryRow(ctx, query, chatID, userID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChatNotFound
		}
		return fmt.Errorf("query chat owner: %w", err)
	}
	return nil
}
