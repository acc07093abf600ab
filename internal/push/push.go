// Package push delivers a single message to a single device on one of the
// supported push platforms.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"push-messenger-backend/internal/model"
)

// Platform names the push service a device is reachable through.
type Platform string

const (
	PlatformWeb  Platform = "web"
	PlatformAPNS Platform = "apns"
	PlatformFCM  Platform = "fcm"
)

var (
	// ErrInvalidTarget marks subscription data that cannot be delivered to.
	ErrInvalidTarget = errors.New("invalid push target")
	// ErrEndpointGone means the push service no longer knows the endpoint or token.
	ErrEndpointGone = errors.New("push endpoint gone")
	// ErrRejected is any other non-success answer from the push service.
	ErrRejected = errors.New("push rejected")
	// ErrPlatformUnsupported is returned when no sender is configured for a platform.
	ErrPlatformUnsupported = errors.New("push platform unsupported")
	// ErrMissingCredentials is returned when a web push is attempted without a VAPID key pair.
	ErrMissingCredentials = errors.New("missing push credentials")
)

// Deliverable is a validated delivery address on one platform.
type Deliverable interface {
	Platform() Platform
	// EndpointInfo identifies the address in logs without leaking key material.
	EndpointInfo() string
	Validate() error
}

// WebTarget is a browser PushSubscription.
type WebTarget struct {
	Endpoint string
	P256DH   string
	Auth     string
}

func (t WebTarget) Platform() Platform { return PlatformWeb }

func (t WebTarget) EndpointInfo() string {
	u, err := url.Parse(t.Endpoint)
	if err != nil || u.Host == "" {
		return t.Endpoint
	}
	return u.Scheme + "://" + u.Host
}

func (t WebTarget) Validate() error {
	u, err := url.Parse(t.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: web endpoint %q", ErrInvalidTarget, t.Endpoint)
	}
	if t.P256DH == "" || t.Auth == "" {
		return fmt.Errorf("%w: web subscription keys missing", ErrInvalidTarget)
	}
	return nil
}

// APNSTarget is an Apple device token.
type APNSTarget struct {
	Token string
}

func (t APNSTarget) Platform() Platform   { return PlatformAPNS }
func (t APNSTarget) EndpointInfo() string { return "apns:" + shorten(t.Token) }

func (t APNSTarget) Validate() error {
	if strings.TrimSpace(t.Token) == "" {
		return fmt.Errorf("%w: empty apns token", ErrInvalidTarget)
	}
	return nil
}

// FCMTarget is a Firebase registration token.
type FCMTarget struct {
	Token string
}

func (t FCMTarget) Platform() Platform   { return PlatformFCM }
func (t FCMTarget) EndpointInfo() string { return "fcm:" + shorten(t.Token) }

func (t FCMTarget) Validate() error {
	if strings.TrimSpace(t.Token) == "" {
		return fmt.Errorf("%w: empty fcm token", ErrInvalidTarget)
	}
	return nil
}

func shorten(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

// TargetFor converts a stored device into a validated Deliverable.
func TargetFor(d model.Device) (Deliverable, error) {
	var target Deliverable
	switch Platform(d.Platform) {
	case PlatformWeb:
		target = WebTarget{Endpoint: d.Endpoint, P256DH: d.P256DH, Auth: d.Auth}
	case PlatformAPNS:
		target = APNSTarget{Token: d.Token}
	case PlatformFCM:
		target = FCMTarget{Token: d.Token}
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidTarget, d.Platform)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// DeviceFor builds the storable record of a target.
func DeviceFor(t Deliverable) model.Device {
	d := model.Device{Platform: string(t.Platform())}
	switch v := t.(type) {
	case WebTarget:
		d.Endpoint, d.P256DH, d.Auth = v.Endpoint, v.P256DH, v.Auth
	case APNSTarget:
		d.Token = v.Token
	case FCMTarget:
		d.Token = v.Token
	}
	return d
}

// Credentials carry the sender identity for one broadcast. They are passed
// per call and never stored on a sender.
type Credentials struct {
	// Subject is a contact e-mail address or https URL.
	Subject         string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// TTL in seconds the push service should hold an undelivered message.
	TTL     int
	Urgency string
}

// HasVAPID reports whether a complete key pair is present.
func (c Credentials) HasVAPID() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, target Deliverable, payload []byte, creds Credentials) error
}

// Router dispatches each attempt to the sender registered for its platform.
type Router struct {
	senders map[Platform]Sender
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{senders: make(map[Platform]Sender)}
}

// Handle registers the sender for a platform.
func (r *Router) Handle(p Platform, s Sender) *Router {
	r.senders[p] = s
	return r
}

// Platforms lists the platforms with a registered sender.
func (r *Router) Platforms() []Platform {
	out := make([]Platform, 0, len(r.senders))
	for _, p := range []Platform{PlatformWeb, PlatformAPNS, PlatformFCM} {
		if _, ok := r.senders[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) Send(ctx context.Context, target Deliverable, payload []byte, creds Credentials) error {
	s, ok := r.senders[target.Platform()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlatformUnsupported, target.Platform())
	}
	return s.Send(ctx, target, payload, creds)
}
