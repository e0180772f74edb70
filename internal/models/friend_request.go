package models

import (
	"time"

	"nexchat-service/internal/docstore"
)

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID         string              `json:"id"`
	FromUserID string              `json:"fromUserID"`
	ToUserID   string              `json:"toUserID"`
	Status     FriendRequestStatus `json:"status"`
	Notified   bool                `json:"notified"`
	CreatedAt  time.Time           `json:"createdAt"`
}

func FriendRequestFromDoc(doc docstore.Document) FriendRequest {
	f := doc.Fields
	return FriendRequest{
		ID:         doc.ID,
		FromUserID: docstore.String(f, "fromUserID"),
		ToUserID:   docstore.String(f, "toUserID"),
		Status:     FriendRequestStatus(docstore.String(f, "status")),
		Notified:   docstore.Bool(f, "notified"),
		CreatedAt:  docstore.Time(f, "createdAt"),
	}
}

// NotificationRecord audits a delivered friend request push. ID is derived
// from the request; MessageID is the id the push provider returned.
type NotificationRecord struct {
	ID        string    `json:"id"`
	MessageID string    `json:"notificationId"`
	UserID    string    `json:"userId"`
	RequestID string    `json:"requestId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

const NotificationTypeFriendRequest = "friendRequest"

func NotificationRecordFromDoc(doc docstore.Document) NotificationRecord {
	f := doc.Fields
	return NotificationRecord{
		ID:        doc.ID,
		MessageID: docstore.String(f, "notificationId"),
		UserID:    docstore.String(f, "userId"),
		RequestID: docstore.String(f, "requestId"),
		Type:      docstore.String(f, "type"),
		CreatedAt: docstore.Time(f, "createdAt"),
	}
}
