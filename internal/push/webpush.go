package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
)

type webpushFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// WebPushSender delivers to browser subscriptions with VAPID authentication.
type WebPushSender struct {
	httpClient *http.Client
	send       webpushFunc
}

// NewWebPushSender creates a sender sharing one HTTP client across attempts.
func NewWebPushSender(httpClient *http.Client) *WebPushSender {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WebPushSender{
		httpClient: httpClient,
		send:       webpush.SendNotificationWithContext,
	}
}

// Send encrypts the payload for the subscription and posts it to the push service.
func (s *WebPushSender) Send(ctx context.Context, target Deliverable, payload []byte, creds Credentials) error {
	t, ok := target.(WebTarget)
	if !ok {
		return fmt.Errorf("%w: web sender got %s target", ErrInvalidTarget, target.Platform())
	}
	if !creds.HasVAPID() {
		return ErrMissingCredentials
	}

	sub := &webpush.Subscription{
		Endpoint: t.Endpoint,
		Keys: webpush.Keys{
			P256dh: t.P256DH,
			Auth:   t.Auth,
		},
	}

	resp, err := s.send(ctx, payload, sub, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      strings.TrimPrefix(creds.Subject, "mailto:"),
		TTL:             creds.TTL,
		Urgency:         webpush.Urgency(creds.Urgency),
		VAPIDPublicKey:  creds.VAPIDPublicKey,
		VAPIDPrivateKey: creds.VAPIDPrivateKey,
	})
	if err != nil {
		return fmt.Errorf("webpush to %s: %w", t.EndpointInfo(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s answered %d", ErrEndpointGone, t.EndpointInfo(), resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s answered %d", ErrRejected, t.EndpointInfo(), resp.StatusCode)
	}
}
