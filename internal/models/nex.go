package models

import (
	"time"

	"nexchat-service/internal/docstore"
)

// Nex is a two-sided photo message stored under both participants.
type Nex struct {
	ID            string    `json:"id"`
	FrontImageURL string    `json:"frontImageURL"`
	BackImageURL  string    `json:"backImageURL"`
	SenderID      string    `json:"senderID"`
	ReceiverID    string    `json:"receiverID"`
	CreatedAt     time.Time `json:"createdAt"`
	Opened        bool      `json:"opened"`
}

func NexFromDoc(doc docstore.Document) Nex {
	f := doc.Fields
	return Nex{
		ID:            doc.ID,
		FrontImageURL: docstore.String(f, "frontImageURL"),
		BackImageURL:  docstore.String(f, "backImageURL"),
		SenderID:      docstore.String(f, "senderID"),
		ReceiverID:    docstore.String(f, "receiverID"),
		CreatedAt:     docstore.Time(f, "createdAt"),
		Opened:        docstore.Bool(f, "opened"),
	}
}
