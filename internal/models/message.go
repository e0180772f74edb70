package models

import (
	"strings"
	"time"

	"nexchat-service/internal/docstore"
)

// Message is one entry of a thread's ordered log.
type Message struct {
	ID          string     `json:"id"`
	Thread      string     `json:"thread,omitempty"`
	SenderID    string     `json:"senderID"`
	ReceiverID  string     `json:"receiverID"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

func MessageFromDoc(doc docstore.Document) Message {
	f := doc.Fields
	thread, _ := ThreadOfMessage(doc.Path)
	return Message{
		ID:          doc.ID,
		Thread:      thread,
		SenderID:    docstore.String(f, "senderID"),
		ReceiverID:  docstore.String(f, "receiverID"),
		Content:     docstore.String(f, "content"),
		CreatedAt:   docstore.Time(f, "createdAt"),
		Read:        docstore.Bool(f, "read"),
		ReadAt:      docstore.TimePtr(f, "readAt"),
		DeliveredAt: docstore.TimePtr(f, "deliveredAt"),
	}
}

// ThreadOfMessage extracts the thread key from chats/{thread}/messages/{id}.
func ThreadOfMessage(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != ChatsCollection || parts[2] != MessagesCollection {
		return "", false
	}
	return parts[1], true
}
