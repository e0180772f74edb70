package models

import (
	"time"

	"nexchat-service/internal/docstore"
)

// Presence is a user's in-chat flag for one thread. A missing document
// decodes to the zero value (not in chat).
type Presence struct {
	UserID   string    `json:"userID"`
	InChat   bool      `json:"inChat"`
	LastSeen time.Time `json:"lastSeen"`
}

func PresenceFromDoc(doc docstore.Document) Presence {
	return Presence{
		UserID:   doc.ID,
		InChat:   docstore.Bool(doc.Fields, "inChat"),
		LastSeen: docstore.Time(doc.Fields, "lastSeen"),
	}
}

// TypingRecord is the single shared typing slot of a thread.
type TypingRecord struct {
	SenderID    string     `json:"senderID"`
	ReceiverID  string     `json:"receiverID"`
	IsTyping    bool       `json:"isTyping"`
	LastTypedAt *time.Time `json:"lastTyped,omitempty"`
}

func TypingRecordFromDoc(doc docstore.Document) TypingRecord {
	return TypingRecord{
		SenderID:    docstore.String(doc.Fields, "senderID"),
		ReceiverID:  docstore.String(doc.Fields, "receiverID"),
		IsTyping:    docstore.Bool(doc.Fields, "isTyping"),
		LastTypedAt: docstore.TimePtr(doc.Fields, "lastTyped"),
	}
}

// TypingNotification tracks the last typing push sent for a thread.
type TypingNotification struct {
	LastNotificationTime time.Time `json:"lastNotificationTime"`
}

func TypingNotificationFromDoc(doc docstore.Document) TypingNotification {
	return TypingNotification{LastNotificationTime: docstore.Time(doc.Fields, "lastNotificationTime")}
}
