package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSConfig holds the token-auth credentials for Apple's push service.
type APNSConfig struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

type apnsTokenClient struct {
	client *apns2.Client
}

func (c apnsTokenClient) Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
	return c.client.PushWithContext(ctx, n)
}

// APNSSender delivers to iOS and macOS device tokens.
type APNSSender struct {
	client APNSClient
	topic  string
}

// NewAPNSSender parses the .p8 key immediately to fail fast on bad credentials.
func NewAPNSSender(cfg APNSConfig) (*APNSSender, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load apns key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewAPNSSenderWithClient(apnsTokenClient{client: client}, cfg.BundleID), nil
}

// NewAPNSSenderWithClient wraps an existing client.
func NewAPNSSenderWithClient(client APNSClient, bundleID string) *APNSSender {
	return &APNSSender{client: client, topic: bundleID}
}

// Send pushes one notification. A payload that is already a JSON object is
// forwarded as the aps document; anything else becomes the alert body.
func (s *APNSSender) Send(ctx context.Context, target Deliverable, body []byte, creds Credentials) error {
	t, ok := target.(APNSTarget)
	if !ok {
		return fmt.Errorf("%w: apns sender got %s target", ErrInvalidTarget, target.Platform())
	}

	n := &apns2.Notification{
		DeviceToken: t.Token,
		Topic:       s.topic,
		Payload:     apnsPayload(body),
	}
	if creds.TTL > 0 {
		n.Expiration = time.Now().Add(time.Duration(creds.TTL) * time.Second)
	}
	if creds.Urgency == "high" {
		n.Priority = apns2.PriorityHigh
	} else if creds.Urgency != "" {
		n.Priority = apns2.PriorityLow
	}

	res, err := s.client.Push(ctx, n)
	if err != nil {
		return fmt.Errorf("apns to %s: %w", t.EndpointInfo(), err)
	}
	if res.Sent() {
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("%w: %s: %s", ErrEndpointGone, t.EndpointInfo(), res.Reason)
	default:
		return fmt.Errorf("%w: %s: %d %s", ErrRejected, t.EndpointInfo(), res.StatusCode, res.Reason)
	}
}

func apnsPayload(body []byte) interface{} {
	var doc map[string]interface{}
	if json.Unmarshal(body, &doc) == nil {
		if _, ok := doc["aps"]; ok {
			return body
		}
	}
	return payload.NewPayload().AlertBody(string(body))
}
