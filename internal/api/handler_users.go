package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"push-messenger-backend/internal/push"
)

// CreateUser handles the creation of a user with a fresh id.
func (h *Handler) CreateUser(c *gin.Context) {
	user, err := h.store.CreateUser(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":  user.ID,
		"message": fmt.Sprintf("Created user with id %q", user.ID),
	})
}

// registerDeviceRequest accepts a browser PushSubscription as produced by
// PushSubscription.toJSON(), or a native token tagged with its platform.
type registerDeviceRequest struct {
	Platform string `json:"platform"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	Token string `json:"token"`
}

func (r registerDeviceRequest) target() (push.Deliverable, error) {
	platform := push.Platform(r.Platform)
	if platform == "" && r.Endpoint != "" {
		platform = push.PlatformWeb
	}

	var target push.Deliverable
	switch platform {
	case push.PlatformWeb:
		target = push.WebTarget{Endpoint: r.Endpoint, P256DH: r.Keys.P256DH, Auth: r.Keys.Auth}
	case push.PlatformAPNS:
		target = push.APNSTarget{Token: r.Token}
	case push.PlatformFCM:
		target = push.FCMTarget{Token: r.Token}
	default:
		return nil, fmt.Errorf("unsupported platform %q", r.Platform)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// RegisterDevice handles attaching a new device to an existing user.
func (h *Handler) RegisterDevice(c *gin.Context) {
	userID := c.Param("userId")

	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	target, err := req.target()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	device := push.DeviceFor(target)
	saved, err := h.store.RegisterDevice(c.Request.Context(), userID, &device)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deviceId": saved.ID,
		"message":  fmt.Sprintf("Device with id %q added to user %q", saved.ID, userID),
	})
}

type deviceResponse struct {
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
	Endpoint string `json:"endpoint"`
}

// ListDevices handles the retrieval of a user's devices. Key material is never returned.
func (h *Handler) ListDevices(c *gin.Context) {
	userID := c.Param("userId")

	devices, err := h.store.ListDevices(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = deviceResponse{DeviceID: d.ID, Platform: d.Platform}
		if target, err := push.TargetFor(d); err == nil {
			out[i].Endpoint = target.EndpointInfo()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": out,
		"message": fmt.Sprintf("User %q has %d devices", userID, len(out)),
	})
}
