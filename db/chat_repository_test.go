package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/config"
	"github.com/zhangyw0810/llamatalk/internal/auth"
	"github.com/zhangyw0810/llamatalk/internal/models"
)

// Integration tests run only against a real database, pointed at by
// TEST_POSTGRES_DSN.
func testPool(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}

	ctx := context.Background()
	postgres, err := NewPostgres(ctx, config.PostgresConfig{DSN: dsn, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(postgres.Close)

	if err := postgres.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	return postgres
}

func createTestUser(t *testing.T, users *UserRepository) *models.User {
	t.Helper()

	suffix := uuid.NewString()[:8]
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     "it-user-" + suffix,
		Email:        "it-" + suffix + "@example.com",
		PasswordHash: "not-a-real-hash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func TestChatRepositoryRoundTrip(t *testing.T) {
	postgres := testPool(t)
	ctx := context.Background()

	users := NewUserRepository(postgres.Pool)
	repo := NewChatRepository(postgres.Pool, nil, zap.NewNop().Sugar())

	user := createTestUser(t, users)

	chat, err := repo.CreateChat(ctx, user.ID, "integration chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	listed, err := repo.ListChats(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != chat.ID {
		t.Fatalf("listed chats = %+v, want the created chat", listed)
	}

	appended, err := repo.AppendMessage(ctx, user.ID, chat.ID, "what is up", "not much")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	messages, err := repo.ListMessages(ctx, user.ID, chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != appended.ID {
		t.Fatalf("messages = %+v", messages)
	}
	if messages[0].Question != "what is up" || messages[0].Answer != "not much" {
		t.Fatalf("round-tripped pair = (%q, %q)", messages[0].Question, messages[0].Answer)
	}
}

func TestChatRepositoryOwnershipScoping(t *testing.T) {
	postgres := testPool(t)
	ctx := context.Background()

	users := NewUserRepository(postgres.Pool)
	repo := NewChatRepository(postgres.Pool, nil, zap.NewNop().Sugar())

	owner := createTestUser(t, users)
	intruder := createTestUser(t, users)

	chat, err := repo.CreateChat(ctx, owner.ID, "private")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, err := repo.ListMessages(ctx, intruder.ID, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign ListMessages error = %v, want ErrChatNotFound", err)
	}
	if _, err := repo.AppendMessage(ctx, intruder.ID, chat.ID, "q", "a"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign AppendMessage error = %v, want ErrChatNotFound", err)
	}
	if _, err := repo.ListMessages(ctx, owner.ID, uuid.NewString()); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("unknown chat error = %v, want ErrChatNotFound", err)
	}
}

func TestUserRepositoryUniqueness(t *testing.T) {
	postgres := testPool(t)
	ctx := context.Background()

	users := NewUserRepository(postgres.Pool)
	user := createTestUser(t, users)

	duplicate := &models.User{
		ID:           uuid.NewString(),
		Username:     user.Username,
		Email:        "other@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := users.CreateUser(ctx, duplicate); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("duplicate username error = %v, want auth.ErrUserExists", err)
	}

	found, err := users.FindByIdentifier(ctx, user.Username)
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if found.ID != user.ID {
		t.Fatalf("found user %q, want %q", found.ID, user.ID)
	}

	if _, err := users.FindByIdentifier(ctx, "no-such-user"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("missing user error = %v, want auth.ErrUserNotFound", err)
	}
}
