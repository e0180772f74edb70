package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat-service/internal/friends"
	"nexchat-service/internal/models"
)

func seedUsers(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.dir.Create(ctx, models.User{ID: "a", Username: "alice"}))
	require.NoError(t, env.dir.Create(ctx, models.User{ID: "b", Username: "bob"}))
}

func TestFriendRequestAcceptFlow(t *testing.T) {
	env := newEnv(t, nil)
	seedUsers(t, env)

	rec := env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{"toUserID": "b"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Request models.FriendRequest `json:"request"`
	}
	decodeBody(t, rec, &created)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{"toUserID": "b"}).Code)

	rec = env.do(t, http.MethodGet, "/users/b/relation", "a", nil)
	assert.JSONEq(t, `{"relation":"outgoing_pending"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/friend-requests", "b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Requests []models.FriendRequest `json:"requests"`
	}
	decodeBody(t, rec, &listed)
	require.Len(t, listed.Requests, 1)

	path := "/friend-requests/" + created.Request.ID
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, path+"/accept", "a", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path+"/accept", "b", nil).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, path+"/reject", "b", nil).Code)

	rec = env.do(t, http.MethodGet, "/users/a/relation", "b", nil)
	assert.JSONEq(t, `{"relation":"friends"}`, rec.Body.String())

	env.clk.Advance(friends.DefaultGrace)
	assert.Eventually(t, func() bool {
		return env.do(t, http.MethodPost, path+"/accept", "b", nil).Code == http.StatusNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestFriendRequestSendErrors(t *testing.T) {
	env := newEnv(t, nil)
	seedUsers(t, env)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{"toUserID": "a"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{"toUserID": "ghost"}).Code)
}

func TestRejectLeavesUsersStrangers(t *testing.T) {
	env := newEnv(t, nil)
	seedUsers(t, env)

	rec := env.do(t, http.MethodPost, "/friend-requests", "a", gin.H{"toUserID": "b"})
	var created struct {
		Request models.FriendRequest `json:"request"`
	}
	decodeBody(t, rec, &created)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/friend-requests/"+created.Request.ID+"/reject", "b", nil).Code)
	rec = env.do(t, http.MethodGet, "/users/b/relation", "a", nil)
	assert.JSONEq(t, `{"relation":"none"}`, rec.Body.String())
}

func TestPushTokenAndProfile(t *testing.T) {
	env := newEnv(t, nil)
	seedUsers(t, env)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/users/me/push-token", "a", gin.H{}).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/users/me/push-token", "a", gin.H{"token": "fcm-1"}).Code)

	rec := env.do(t, http.MethodGet, "/users/me", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User models.User `json:"user"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "fcm-1", resp.User.FCMToken)
	assert.Equal(t, "alice", resp.User.Username)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/users/me", "ghost", nil).Code)
}
