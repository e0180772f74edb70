package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the authenticated REST API.
func RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc, chat *ChatHandler, friend *FriendHandler, user *UserHandler) {
	api := router.Group("", auth)

	api.GET("/chats", chat.ListChats)
	api.GET("/chats/:peer_id/messages", chat.GetMessages)
	api.POST("/chats/:peer_id/messages", chat.PostMessage)
	api.POST("/chats/:peer_id/read", chat.MarkRead)
	api.PUT("/chats/:peer_id/presence", chat.PutPresence)
	api.GET("/chats/:peer_id/nexes", chat.GetNexes)
	api.POST("/chats/:peer_id/nexes", chat.PostNex)
	api.POST("/nexes/:nex_id/open", chat.OpenNex)

	api.GET("/friend-requests", friend.ListIncoming)
	api.POST("/friend-requests", friend.Send)
	api.POST("/friend-requests/:request_id/accept", friend.Accept)
	api.POST("/friend-requests/:request_id/reject", friend.Reject)
	api.GET("/users/:user_id/relation", friend.Relation)

	api.GET("/users/me", user.GetMe)
	api.PUT("/users/me/push-token", user.PutPushToken)
}
