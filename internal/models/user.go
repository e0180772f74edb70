package models

import "nexchat-service/internal/docstore"

// User is a profile document. Only the fields the chat engine reads are typed.
type User struct {
	ID               string   `json:"id"`
	Username         string   `json:"username"`
	DisplayName      string   `json:"displayName,omitempty"`
	Friends          []string `json:"friends"`
	FCMToken         string   `json:"fcmToken,omitempty"`
	Coins            int64    `json:"coins"`
	Shoe             string   `json:"shoe,omitempty"`
	BoughtShoesArray []string `json:"boughtShoesArray,omitempty"`
}

// Name is the label shown in notifications.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// HasFriend reports whether id is in the friends set.
func (u User) HasFriend(id string) bool {
	for _, f := range u.Friends {
		if f == id {
			return true
		}
	}
	return false
}

func UserFromDoc(doc docstore.Document) User {
	f := doc.Fields
	return User{
		ID:               doc.ID,
		Username:         docstore.String(f, "username"),
		DisplayName:      docstore.String(f, "displayName"),
		Friends:          docstore.Strings(f, "friends"),
		FCMToken:         docstore.String(f, "fcmToken"),
		Coins:            docstore.Int(f, "coins"),
		Shoe:             docstore.String(f, "shoe"),
		BoughtShoesArray: docstore.Strings(f, "boughtShoesArray"),
	}
}

func (u User) Fields() map[string]any {
	friends := make([]any, 0, len(u.Friends))
	for _, f := range u.Friends {
		friends = append(friends, f)
	}
	fields := map[string]any{
		"username": u.Username,
		"friends":  friends,
		"coins":    u.Coins,
	}
	if u.DisplayName != "" {
		fields["displayName"] = u.DisplayName
	}
	if u.FCMToken != "" {
		fields["fcmToken"] = u.FCMToken
	}
	if u.Shoe != "" {
		fields["shoe"] = u.Shoe
	}
	return fields
}
