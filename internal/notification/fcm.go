package notification

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// messagingClient is the part of *messaging.Client the service uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMService pushes streak notifications to a Firebase topic that the
// companion app subscribes to.
type FCMService struct {
	client messagingClient
	topic  string
	logger *zap.Logger
}

// NewFCMService initializes FCMService. It first attempts to use
// credentials from the FCM_SERVICE_ACCOUNT_JSON environment variable (Base64 encoded).
// If that's not found, it falls back to a local service account key file.
func NewFCMService(ctx context.Context, localFilePath, topic string, logger *zap.Logger) (*FCMService, error) {
	if topic == "" {
		return nil, errors.New("fcm topic is not set")
	}

	var opt option.ClientOption
	if encodedCreds := os.Getenv("FCM_SERVICE_ACCOUNT_JSON"); encodedCreds != "" {
		decoded, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 firebase credentials from FCM_SERVICE_ACCOUNT_JSON: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
		logger.Info("fcm: using credentials from FCM_SERVICE_ACCOUNT_JSON")
	} else {
		if _, err := os.Stat(localFilePath); err != nil {
			return nil, fmt.Errorf("local firebase file not found: %s, and FCM_SERVICE_ACCOUNT_JSON environment variable is not set", localFilePath)
		}
		opt = option.WithCredentialsFile(localFilePath)
		logger.Info("fcm: using credentials file", zap.String("path", localFilePath))
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FCMService{client: client, topic: topic, logger: logger}, nil
}

func (s *FCMService) Name() string { return "fcm" }

func (s *FCMService) message(n *Notification) *messaging.Message {
	return &messaging.Message{
		Topic: s.topic,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
	}
}

// Send pushes n to the configured topic.
func (s *FCMService) Send(ctx context.Context, n *Notification) error {
	id, err := s.client.Send(ctx, s.message(n))
	if err != nil {
		return fmt.Errorf("failed to send fcm message: %w", err)
	}
	s.logger.Debug("fcm message sent", zap.String("message_id", id), zap.String("topic", s.topic))
	return nil
}
