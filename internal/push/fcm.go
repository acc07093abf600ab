package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMConfig selects the Firebase project and its service account.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FCMSender delivers to Android and other Firebase registration tokens.
type FCMSender struct {
	client MessagingClient
}

// NewFCMSender initializes a Firebase app and its messaging client.
func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	return NewFCMSenderWithClient(client), nil
}

// NewFCMSenderWithClient wraps an existing client. *messaging.Client satisfies MessagingClient.
func NewFCMSenderWithClient(client MessagingClient) *FCMSender {
	return &FCMSender{client: client}
}

// Send delivers the payload as a data message under the "payload" key.
func (s *FCMSender) Send(ctx context.Context, target Deliverable, body []byte, creds Credentials) error {
	t, ok := target.(FCMTarget)
	if !ok {
		return fmt.Errorf("%w: fcm sender got %s target", ErrInvalidTarget, target.Platform())
	}

	msg := &messaging.Message{
		Token: t.Token,
		Data:  map[string]string{"payload": string(body)},
	}
	if creds.TTL > 0 || creds.Urgency != "" {
		android := &messaging.AndroidConfig{Priority: "normal"}
		if creds.Urgency == "high" {
			android.Priority = "high"
		}
		if creds.TTL > 0 {
			ttl := time.Duration(creds.TTL) * time.Second
			android.TTL = &ttl
		}
		msg.Android = android
	}

	if _, err := s.client.Send(ctx, msg); err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			return fmt.Errorf("%w: %s: %v", ErrEndpointGone, t.EndpointInfo(), err)
		}
		if messaging.IsInvalidArgument(err) {
			return fmt.Errorf("%w: %s: %v", ErrRejected, t.EndpointInfo(), err)
		}
		return fmt.Errorf("fcm to %s: %w", t.EndpointInfo(), err)
	}
	return nil
}
