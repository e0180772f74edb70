package models

import "nexchat-service/internal/docstore"

// Collection names match the legacy mobile clients. Message fields do not:
// they use senderID, receiverID, createdAt and readAt.
const (
	UsersCollection               = "users"
	ChatsCollection               = "chats"
	MessagesCollection            = "messages"
	ChatUsersCollection           = "users"
	NexesCollection               = "Nexes"
	TypingIndicatorsCollection    = "typingIndicators"
	TypingNotificationsCollection = "typingNotifications"
	FriendRequestsCollection      = "friendRequests"
	NotificationsCollection       = "notifications"
)

func UserPath(userID string) string {
	return docstore.Join(UsersCollection, userID)
}

func ChatPath(thread string) string {
	return docstore.Join(ChatsCollection, thread)
}

func MessagesPath(thread string) string {
	return docstore.Join(ChatsCollection, thread, MessagesCollection)
}

func MessagePath(thread, messageID string) string {
	return docstore.Join(MessagesPath(thread), messageID)
}

func PresencePath(thread, userID string) string {
	return docstore.Join(ChatsCollection, thread, ChatUsersCollection, userID)
}

func TypingPath(thread string) string {
	return docstore.Join(TypingIndicatorsCollection, thread)
}

func TypingNotificationPath(thread string) string {
	return docstore.Join(TypingNotificationsCollection, thread)
}

func NexesPath(userID string) string {
	return docstore.Join(UsersCollection, userID, NexesCollection)
}

func NexPath(userID, nexID string) string {
	return docstore.Join(NexesPath(userID), nexID)
}

func FriendRequestPath(requestID string) string {
	return docstore.Join(FriendRequestsCollection, requestID)
}

func NotificationPath(notificationID string) string {
	return docstore.Join(NotificationsCollection, notificationID)
}
