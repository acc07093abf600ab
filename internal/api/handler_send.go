package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"push-messenger-backend/internal/fanout"
	"push-messenger-backend/internal/push"
)

type sendRequest struct {
	GroupLabels          []string `json:"groupLabels"`
	ForbiddenGroupLabels []string `json:"forbiddenGroupLabels"`
	Payload              string   `json:"payload"`
	Email                string   `json:"email"`
	PublicKey            string   `json:"publicKey"`
	PrivateKey           string   `json:"privateKey"`
	TTL                  *int     `json:"ttl"`
	Urgency              string   `json:"urgency"`
}

type sendResponse struct {
	fanout.Result
	Message string `json:"message"`
}

// credentials picks the sender identity: an inline key pair wins, otherwise
// the configured default is used.
func (h *Handler) credentials(req sendRequest) (push.Credentials, error) {
	var creds push.Credentials
	switch {
	case req.PublicKey != "" && req.PrivateKey != "":
		creds = push.Credentials{
			Subject:         req.Email,
			VAPIDPublicKey:  req.PublicKey,
			VAPIDPrivateKey: req.PrivateKey,
			TTL:             h.defaults.TTL,
			Urgency:         h.defaults.Urgency,
		}
	case req.PublicKey != "" || req.PrivateKey != "":
		return creds, fmt.Errorf("publicKey and privateKey must be given together")
	case h.defaults.HasVAPID():
		creds = h.defaults
		if req.Email != "" {
			creds.Subject = req.Email
		}
	default:
		return creds, fmt.Errorf("no vapid key pair in request and none configured")
	}

	if creds.Subject == "" {
		return creds, fmt.Errorf("email is required")
	}
	if req.TTL != nil {
		if *req.TTL < 0 {
			return creds, fmt.Errorf("ttl must not be negative")
		}
		creds.TTL = *req.TTL
	}
	if req.Urgency != "" {
		switch req.Urgency {
		case "very-low", "low", "normal", "high":
			creds.Urgency = req.Urgency
		default:
			return creds, fmt.Errorf("unsupported urgency %q", req.Urgency)
		}
	}
	return creds, nil
}

// Send handles a broadcast to every device of the target groups' members,
// minus members of any forbidden group.
func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validateLabels(append(append([]string{}, req.GroupLabels...), req.ForbiddenGroupLabels...)); err != nil {
		badRequest(c, err.Error())
		return
	}
	creds, err := h.credentials(req)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.Broadcast(c.Request.Context(), fanout.Request{
		Targets:     req.GroupLabels,
		Forbidden:   req.ForbiddenGroupLabels,
		Payload:     []byte(req.Payload),
		Credentials: creds,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, sendResponse{
		Result: result,
		Message: fmt.Sprintf("Sent %d messages to groups %s successfully and %d failed",
			result.SuccessCount, quoted(req.GroupLabels), result.FailureCount),
	})
}
