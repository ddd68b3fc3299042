package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

type fakeStore struct {
	createChat    func(ctx context.Context, userID, title string) (*models.Chat, error)
	listChats     func(ctx context.Context, userID string) ([]models.Chat, error)
	listMessages  func(ctx context.Context, userID, chatID string) ([]models.StoredMessage, error)
	appendMessage func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error)
}

func (f *fakeStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if f.createChat == nil {
		return &models.Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: time.Now()}, nil
	}
	return f.createChat(ctx, userID, title)
}

func (f *fakeStore) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	if f.listChats == nil {
		return nil, nil
	}
	return f.listChats(ctx, userID)
}

func (f *fakeStore) ListMessages(ctx context.Context, userID, chatID string) ([]models.StoredMessage, error) {
	if f.listMessages == nil {
		return nil, nil
	}
	return f.listMessages(ctx, userID, chatID)
}

func (f *fakeStore) AppendMessage(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
	if f.appendMessage == nil {
		return &models.StoredMessage{ID: uuid.NewString(), ChatID: chatID, Question: question, Answer: answer}, nil
	}
	return f.appendMessage(ctx, userID, chatID, question, answer)
}

type fakeProvider struct {
	stream func(ctx context.Context, history []models.Message, onChunk func(string) error) error
}

func (p *fakeProvider) Stream(ctx context.Context, history []models.Message, onChunk func(string) error) error {
	return p.stream(ctx, history, onChunk)
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	store := &fakeStore{
		createChat: func(ctx context.Context, userID, title string) (*models.Chat, error) {
			t.Fatal("CreateChat should not be called for empty input")
			return nil, nil
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			t.Fatal("Stream should not be called for empty input")
			return nil
		},
	}

	controller := NewSessionController(store, provider, testLogger(), "user-1", "", nil)

	for _, input := range []string{"", "   ", "\n\t "} {
		if err := controller.Submit(context.Background(), input, nil); err != nil {
			t.Fatalf("Submit(%q) returned error: %v", input, err)
		}
	}

	if got := controller.Messages(); len(got) != 0 {
		t.Fatalf("expected no messages after empty submits, got %d", len(got))
	}
}

func TestSubmitPublishesUserMessageBeforeProviderCall(t *testing.T) {
	var snapshots []Update
	var historySeen []models.Message

	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			historySeen = append([]models.Message(nil), history...)
			if len(snapshots) == 0 {
				t.Fatal("provider called before the optimistic publish")
			}
			return nil
		},
	}

	controller := NewSessionController(&fakeStore{}, provider, testLogger(), "user-1", "chat-1", nil)
	err := controller.Submit(context.Background(), "hi there", func(u Update) {
		snapshots = append(snapshots, u)
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	first := snapshots[0]
	if len(first.Messages) != 1 || first.Messages[0].Role != models.RoleUser || first.Messages[0].Content != "hi there" {
		t.Fatalf("first snapshot is not the optimistic user append: %+v", first.Messages)
	}
	if !first.Streaming {
		t.Fatal("optimistic snapshot should be marked streaming")
	}

	if len(historySeen) != 1 || historySeen[0].Content != "hi there" {
		t.Fatalf("provider history missing the submitted message: %+v", historySeen)
	}
}

func TestSubmitAccumulatesChunksAndPersistsPair(t *testing.T) {
	var persistedQuestion, persistedAnswer string
	store := &fakeStore{
		appendMessage: func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
			persistedQuestion, persistedAnswer = question, answer
			return &models.StoredMessage{ID: "m1", ChatID: chatID, Question: question, Answer: answer}, nil
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			for _, chunk := range []string{"Hel", "lo"} {
				if err := onChunk(chunk); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var rendered []string
	controller := NewSessionController(store, provider, testLogger(), "user-1", "chat-1", nil)
	err := controller.Submit(context.Background(), "greet me", func(u Update) {
		if len(u.Messages) == 2 && u.Messages[1].Role == models.RoleAssistant {
			rendered = append(rendered, u.Messages[1].Content)
		}
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if len(rendered) < 2 || rendered[0] != "Hel" || rendered[1] != "Hello" {
		t.Fatalf("expected accumulated snapshots [Hel Hello ...], got %v", rendered)
	}

	messages := controller.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages after completion, got %d", len(messages))
	}
	if messages[1].Content != "Hello" {
		t.Fatalf("final assistant content = %q, want Hello", messages[1].Content)
	}

	if persistedQuestion != "greet me" || persistedAnswer != "Hello" {
		t.Fatalf("persisted pair = (%q, %q), want (greet me, Hello)", persistedQuestion, persistedAnswer)
	}
}

func TestSubmitCreatesChatWithDerivedTitle(t *testing.T) {
	var createdTitle, appendedChatID string
	store := &fakeStore{
		createChat: func(ctx context.Context, userID, title string) (*models.Chat, error) {
			createdTitle = title
			return &models.Chat{ID: "chat-new", UserID: userID, Title: title}, nil
		},
		appendMessage: func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
			appendedChatID = chatID
			return &models.StoredMessage{ID: "m1", ChatID: chatID}, nil
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			return onChunk("ok")
		},
	}

	long := strings.Repeat("a", 50)
	controller := NewSessionController(store, provider, testLogger(), "user-1", "", nil)
	if err := controller.Submit(context.Background(), long, nil); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if createdTitle != strings.Repeat("a", 40) {
		t.Fatalf("derived title length = %d, want 40", len(createdTitle))
	}
	if controller.ChatID() != "chat-new" {
		t.Fatalf("controller chat id = %q, want chat-new", controller.ChatID())
	}
	if appendedChatID != "chat-new" {
		t.Fatalf("persisted under chat id %q, want chat-new", appendedChatID)
	}
}

func TestSubmitChatCreationFailureLeavesHistoryUntouched(t *testing.T) {
	store := &fakeStore{
		createChat: func(ctx context.Context, userID, title string) (*models.Chat, error) {
			return nil, errors.New("db down")
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			t.Fatal("Stream should not run when chat creation fails")
			return nil
		},
	}

	published := 0
	controller := NewSessionController(store, provider, testLogger(), "user-1", "", nil)
	err := controller.Submit(context.Background(), "hello", func(Update) { published++ })
	if err == nil {
		t.Fatal("expected chat creation error")
	}

	if published != 0 {
		t.Fatalf("expected no snapshots on creation failure, got %d", published)
	}
	if got := controller.Messages(); len(got) != 0 {
		t.Fatalf("history mutated despite creation failure: %+v", got)
	}
	if controller.State() != StateIdle {
		t.Fatalf("controller not idle after failure, state=%s", controller.State())
	}
}

func TestSubmitStreamFailureKeepsPartialOutputWithoutPersisting(t *testing.T) {
	store := &fakeStore{
		appendMessage: func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
			t.Fatal("AppendMessage should not run on stream failure")
			return nil, nil
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			if err := onChunk("partial answ"); err != nil {
				return err
			}
			return errors.New("connection reset")
		},
	}

	var last Update
	controller := NewSessionController(store, provider, testLogger(), "user-1", "chat-1", nil)
	err := controller.Submit(context.Background(), "tell me", func(u Update) { last = u })
	if err == nil {
		t.Fatal("expected stream error")
	}

	messages := controller.Messages()
	if len(messages) != 2 || messages[1].Content != "partial answ" {
		t.Fatalf("partial output lost: %+v", messages)
	}
	if last.Streaming {
		t.Fatal("final snapshot after failure should not be streaming")
	}
	if controller.State() != StateIdle {
		t.Fatalf("controller not idle after failure, state=%s", controller.State())
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			close(started)
			<-release
			return onChunk("done")
		},
	}

	controller := NewSessionController(&fakeStore{}, provider, testLogger(), "user-1", "chat-1", nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- controller.Submit(context.Background(), "first", nil)
	}()

	<-started
	if err := controller.Submit(context.Background(), "second", nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("concurrent Submit error = %v, want ErrSessionBusy", err)
	}
	if !controller.IsLoading() {
		t.Fatal("IsLoading should report true while streaming")
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Submit returned error: %v", err)
	}
	if controller.IsLoading() {
		t.Fatal("IsLoading should report false after completion")
	}
}

func TestSubmitPersistenceFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{
		appendMessage: func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
			return nil, errors.New("insert failed")
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			return onChunk("answer")
		},
	}

	controller := NewSessionController(store, provider, testLogger(), "user-1", "chat-1", nil)
	if err := controller.Submit(context.Background(), "question", nil); err != nil {
		t.Fatalf("Submit should not surface persistence failure, got: %v", err)
	}

	messages := controller.Messages()
	if len(messages) != 2 || messages[1].Content != "answer" {
		t.Fatalf("rendered conversation lost after persistence failure: %+v", messages)
	}
}

func TestSubmitTrimsPersistedAnswer(t *testing.T) {
	var persisted string
	store := &fakeStore{
		appendMessage: func(ctx context.Context, userID, chatID, question, answer string) (*models.StoredMessage, error) {
			persisted = answer
			return &models.StoredMessage{ID: "m1"}, nil
		},
	}
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			for _, chunk := range []string{"  Hello", " world \n"} {
				if err := onChunk(chunk); err != nil {
					return err
				}
			}
			return nil
		},
	}

	controller := NewSessionController(store, provider, testLogger(), "user-1", "chat-1", nil)
	if err := controller.Submit(context.Background(), "  hi  ", nil); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if persisted != "Hello world" {
		t.Fatalf("persisted answer = %q, want trimmed %q", persisted, "Hello world")
	}
}

func TestSubmitSequentialTurnsShareHistory(t *testing.T) {
	var lastHistory []models.Message
	provider := &fakeProvider{
		stream: func(ctx context.Context, history []models.Message, onChunk func(string) error) error {
			lastHistory = append([]models.Message(nil), history...)
			return onChunk("reply")
		},
	}

	controller := NewSessionController(&fakeStore{}, provider, testLogger(), "user-1", "chat-1", nil)
	if err := controller.Submit(context.Background(), "one", nil); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := controller.Submit(context.Background(), "two", nil); err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	// Second call sees user+assistant from turn one plus its own user turn.
	if len(lastHistory) != 3 {
		t.Fatalf("second turn history length = %d, want 3: %+v", len(lastHistory), lastHistory)
	}
	if lastHistory[2].Content != "two" {
		t.Fatalf("second turn history tail = %q, want two", lastHistory[2].Content)
	}
}
