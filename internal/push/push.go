// Package push delivers device notifications.
package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSound is the custom sound bundled with the mobile apps.
const DefaultSound = "rizz-sound-effect.wav"

var ErrMissingToken = errors.New("push token is empty")

type Notification struct {
	Token string
	Title string
	Body  string
	Sound string
}

// Sender makes a single delivery attempt and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, n Notification) (string, error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender builds a sender from application default credentials.
func NewFCMSender(ctx context.Context, projectID string) (*FCMSender, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, n Notification) (string, error) {
	if n.Token == "" {
		return "", ErrMissingToken
	}
	return s.client.Send(ctx, BuildMessage(n))
}

// BuildMessage maps a notification to an FCM message carrying the sound on
// both platforms.
func BuildMessage(n Notification) *messaging.Message {
	sound := n.Sound
	if sound == "" {
		sound = DefaultSound
	}
	return &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Sound: sound},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: sound},
			},
		},
	}
}

// LogSender only logs notifications. Used when no push provider is set up.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "push").Logger()}
}

func (s *LogSender) Send(_ context.Context, n Notification) (string, error) {
	if n.Token == "" {
		return "", ErrMissingToken
	}
	id := uuid.NewString()
	s.log.Info().Str("message_id", id).Str("title", n.Title).Str("body", n.Body).Str("sound", n.Sound).Msg("push notification")
	return id, nil
}
