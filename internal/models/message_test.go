package models

import (
	"testing"
	"time"
)

func TestNormalizeRoleContentForm(t *testing.T) {
	cases := []struct {
		name string
		wire WireMessage
		want []Message
	}{
		{
			name: "user turn",
			wire: WireMessage{Role: "user", Content: "hello"},
			want: []Message{{Role: RoleUser, Content: "hello"}},
		},
		{
			name: "role is case insensitive",
			wire: WireMessage{Role: "Assistant", Content: "hi"},
			want: []Message{{Role: RoleAssistant, Content: "hi"}},
		},
		{
			name: "blank content dropped",
			wire: WireMessage{Role: "user", Content: "   "},
			want: nil,
		},
		{
			name: "unknown role dropped",
			wire: WireMessage{Role: "narrator", Content: "meanwhile"},
			want: nil,
		},
		{
			name: "content trimmed",
			wire: WireMessage{Role: "user", Content: "  hello  "},
			want: []Message{{Role: RoleUser, Content: "hello"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.wire.Normalize()
			if len(got) != len(tc.want) {
				t.Fatalf("Normalize() = %+v, want %+v", got, tc.want)
			}
			for i := range got {
				if got[i].Role != tc.want[i].Role || got[i].Content != tc.want[i].Content {
					t.Fatalf("Normalize()[%d] = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestNormalizeQuestionAnswerForm(t *testing.T) {
	wire := WireMessage{Question: "what?", Answer: "that."}
	got := wire.Normalize()

	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %+v", got)
	}
	if got[0].Role != RoleUser || got[0].Content != "what?" {
		t.Fatalf("question turn = %+v", got[0])
	}
	if got[1].Role != RoleAssistant || got[1].Content != "that." {
		t.Fatalf("answer turn = %+v", got[1])
	}
}

func TestNormalizeQuestionWithoutAnswer(t *testing.T) {
	got := WireMessage{Question: "pending?"}.Normalize()
	if len(got) != 1 || got[0].Role != RoleUser {
		t.Fatalf("Normalize() = %+v, want single user turn", got)
	}
}

func TestNormalizePersistedFormWinsOverRole(t *testing.T) {
	// A stored pair that also carries a role field keeps the pair shape.
	wire := WireMessage{Role: "user", Content: "ignored", Question: "q", Answer: "a"}
	got := wire.Normalize()
	if len(got) != 2 || got[0].Content != "q" || got[1].Content != "a" {
		t.Fatalf("Normalize() = %+v, want expanded pair", got)
	}
}

func TestNormalizeMessagesPreservesOrder(t *testing.T) {
	wire := []WireMessage{
		{Question: "q1", Answer: "a1"},
		{Role: "weird", Content: "dropped"},
		{Role: "user", Content: "next"},
	}

	got := NormalizeMessages(wire)
	want := []string{"q1", "a1", "next"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeMessages() = %+v, want contents %v", got, want)
	}
	for i, content := range want {
		if got[i].Content != content {
			t.Fatalf("message %d content = %q, want %q", i, got[i].Content, content)
		}
	}
}

func TestExpandStored(t *testing.T) {
	now := time.Now()
	rows := []StoredMessage{
		{Question: "q1", Answer: "a1", CreatedAt: now},
		{Question: "q2", Answer: "", CreatedAt: now},
	}

	got := ExpandStored(rows)
	if len(got) != 3 {
		t.Fatalf("ExpandStored() length = %d, want 3: %+v", len(got), got)
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant || got[2].Role != RoleUser {
		t.Fatalf("roles = %q %q %q", got[0].Role, got[1].Role, got[2].Role)
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Fatalf("timestamp lost in expansion: %v", got[0].CreatedAt)
	}
}
