package models

import "time"

// Chat is a named, ordered sequence of messages owned by one user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredMessage is one persisted question/answer turn pair as the
// conversation store records it.
type StoredMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"-"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}
