package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

var ErrEntryNotFound = errors.New("chatlist: entry not found")

// ChatEntry is one sidebar row. LocalKey is a stable client-side identity
// that never changes; ID is the storage id and is swapped in when a pending
// creation is confirmed.
type ChatEntry struct {
	LocalKey  string
	ID        string
	Title     string
	Pending   bool
	CreatedAt time.Time
}

// ChatList keeps the set of known chats consistent with the store,
// including optimistic creation before the store confirms an id. It is the
// only writer of the selected message list besides the session controller.
type ChatList struct {
	store ChatStore

	mu         sync.Mutex
	userID     string
	entries    []listEntry
	selected   string // local key of the selected entry
	messages   []models.Message
	selectedID string
}

type listEntry struct {
	localKey string
	chat     models.Chat
	pending  bool
}

func NewChatList(store ChatStore, userID string) *ChatList {
	return &ChatList{store: store, userID: userID}
}

// Load fetches the full chat list and selects the most recently created
// chat, fetching its messages. An empty store leaves nothing selected.
func (l *ChatList) Load(ctx context.Context) error {
	chats, err := l.store.ListChats(ctx, l.userID)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	entries := make([]listEntry, 0, len(chats))
	for _, chat := range chats {
		entries = append(entries, listEntry{localKey: uuid.NewString(), chat: chat})
	}

	l.mu.Lock()
	l.entries = entries
	l.selected = ""
	l.selectedID = ""
	l.messages = nil
	l.mu.Unlock()

	if len(chats) == 0 {
		return nil
	}

	newest := chats[0]
	for _, chat := range chats[1:] {
		if chat.CreatedAt.After(newest.CreatedAt) {
			newest = chat
		}
	}

	return l.Select(ctx, newest.ID)
}

// NewChat inserts a pending placeholder entry and selects it. The returned
// local key identifies the entry for Confirm or Abandon.
func (l *ChatList) NewChat(title string) string {
	localKey := uuid.NewString()

	l.mu.Lock()
	l.entries = append(l.entries, listEntry{
		localKey: localKey,
		chat:     models.Chat{ID: localKey, Title: title},
		pending:  true,
	})
	l.selected = localKey
	l.selectedID = localKey
	l.messages = nil
	l.mu.Unlock()

	return localKey
}

// Confirm reconciles a pending placeholder with the store-assigned record.
// The entry's identity in the list is its local key, so this is a field
// update, never an insert.
func (l *ChatList) Confirm(localKey string, chat models.Chat) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].localKey != localKey {
			continue
		}
		l.entries[i].chat = chat
		l.entries[i].pending = false
		if l.selected == localKey {
			l.selectedID = chat.ID
		}
		return nil
	}

	return ErrEntryNotFound
}

// Abandon removes a placeholder whose store creation failed.
func (l *ChatList) Abandon(localKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].localKey != localKey {
			continue
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		if l.selected == localKey {
			l.selected = ""
			l.selectedID = ""
			l.messages = nil
		}
		return
	}
}

// Select replaces the displayed messages with a fresh fetch for chatID.
// Previously displayed messages are discarded, never merged.
func (l *ChatList) Select(ctx context.Context, chatID string) error {
	rows, err := l.store.ListMessages(ctx, l.userID, chatID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.selected = ""
	for _, entry := range l.entries {
		if entry.chat.ID == chatID {
			l.selected = entry.localKey
			break
		}
	}
	l.selectedID = chatID
	l.messages = models.ExpandStored(rows)

	return nil
}

// Chats returns a read-only projection of the list in insertion order.
func (l *ChatList) Chats() []ChatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ChatEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, ChatEntry{
			LocalKey:  entry.localKey,
			ID:        entry.chat.ID,
			Title:     entry.chat.Title,
			Pending:   entry.pending,
			CreatedAt: entry.chat.CreatedAt,
		})
	}
	return out
}

// Messages returns a copy of the selected chat's rendered messages.
func (l *ChatList) Messages() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Message(nil), l.messages...)
}

// SelectedID returns the storage id of the selected chat, or the local key
// while the selection is still pending confirmation.
func (l *ChatList) SelectedID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectedID
}
