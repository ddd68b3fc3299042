package models

import (
	"strings"
	"time"
)

// Message roles understood by the completion pipeline.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is the single internal representation of one conversation turn.
// Everything entering the pipeline is normalized into this shape first.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// WireMessage covers both serializations a client or the store may send:
// a live {role, content} turn or a persisted {question, answer} pair.
// Question/Answer present marks the persisted form.
type WireMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	Question          string    `json:"question,omitempty"`
	Answer            string    `json:"answer,omitempty"`
	QuestionCreatedAt time.Time `json:"question_created_at,omitzero"`
	AnswerCreatedAt   time.Time `json:"answer_created_at,omitzero"`
}

// Normalize converts one wire entry into zero, one or two internal messages.
// Malformed entries (blank content, unrecognized role) produce nothing.
func (w WireMessage) Normalize() []Message {
	if strings.TrimSpace(w.Question) != "" || strings.TrimSpace(w.Answer) != "" {
		out := make([]Message, 0, 2)
		if q := strings.TrimSpace(w.Question); q != "" {
			out = append(out, Message{Role: RoleUser, Content: q, CreatedAt: w.QuestionCreatedAt})
		}
		if a := strings.TrimSpace(w.Answer); a != "" {
			out = append(out, Message{Role: RoleAssistant, Content: a, CreatedAt: w.AnswerCreatedAt})
		}
		return out
	}

	content := strings.TrimSpace(w.Content)
	if content == "" {
		return nil
	}

	role := strings.ToLower(strings.TrimSpace(w.Role))
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil
	}

	return []Message{{Role: role, Content: content}}
}

// NormalizeMessages flattens a wire history into the internal representation,
// preserving arrival order. No reordering is performed.
func NormalizeMessages(entries []WireMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Normalize()...)
	}
	return out
}

// ExpandStored converts persisted question/answer rows into the flat
// message sequence a conversation view renders.
func ExpandStored(rows []StoredMessage) []Message {
	out := make([]Message, 0, 2*len(rows))
	for _, row := range rows {
		wire := WireMessage{
			Question:          row.Question,
			Answer:            row.Answer,
			QuestionCreatedAt: row.CreatedAt,
			AnswerCreatedAt:   row.CreatedAt,
		}
		out = append(out, wire.Normalize()...)
	}
	return out
}
