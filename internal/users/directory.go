// Package users reads and updates user profile documents.
package users

import (
	"context"
	"errors"
	"fmt"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Directory resolves users for the chat engine and notification handlers.
type Directory struct {
	store docstore.Store
}

func NewDirectory(store docstore.Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) Get(ctx context.Context, userID string) (models.User, error) {
	doc, err := d.store.Get(ctx, models.UserPath(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return models.UserFromDoc(doc), nil
}

// Create writes a new profile. Used by seeding and tests.
func (d *Directory) Create(ctx context.Context, user models.User) error {
	return d.store.Set(ctx, models.UserPath(user.ID), user.Fields())
}

// SetPushToken stores the device token used for push delivery.
func (d *Directory) SetPushToken(ctx context.Context, userID, token string) error {
	return d.store.Set(ctx, models.UserPath(userID), map[string]any{"fcmToken": token}, docstore.Merge())
}

// AddFriend adds friendID to userID's friends set. The user must exist.
func (d *Directory) AddFriend(ctx context.Context, userID, friendID string) error {
	err := d.store.Update(ctx, models.UserPath(userID), map[string]any{
		"friends": docstore.ArrayUnion(friendID),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// Friends returns the friend ids of userID, or nil when the user is missing.
func (d *Directory) Friends(ctx context.Context, userID string) ([]string, error) {
	user, err := d.Get(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.Friends, nil
}
