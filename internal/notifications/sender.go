package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
)

// errUnregistered marks a token FCM no longer accepts.
var errUnregistered = errors.New("device token unregistered")

// FCMSender delivers events through Firebase Cloud Messaging (HTTP v1).
// Nil-safe: a nil sender reports OutcomeNoChannel for every recipient.
type FCMSender struct {
	client   *http.Client
	endpoint string
	tokens   TokenStore
	logger   *slog.Logger
}

// NewFCMSender creates an FCM sender from a service account credentials
// file. Returns nil, nil if credentialsFile is empty (push disabled).
func NewFCMSender(ctx context.Context, credentialsFile string, tokens TokenStore, logger *slog.Logger) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var meta struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if meta.ProjectID == "" {
		return nil, fmt.Errorf("credentials file has no project_id")
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return newFCMSender(jwtCfg.Client(ctx), fmt.Sprintf(fcmEndpoint, meta.ProjectID), tokens, logger), nil
}

func newFCMSender(client *http.Client, endpoint string, tokens TokenStore, logger *slog.Logger) *FCMSender {
	return &FCMSender{client: client, endpoint: endpoint, tokens: tokens, logger: logger}
}

type fcmMessage struct {
	Message struct {
		Token        string            `json:"token"`
		Notification fcmNotification   `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
		Android      *fcmAndroid       `json:"android,omitempty"`
	} `json:"message"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

// Deliver sends ev to every active device of the recipient. OK if at
// least one device accepted it.
func (s *FCMSender) Deliver(ctx context.Context, recipientID string, ev Event) Outcome {
	if s == nil {
		return OutcomeNoChannel
	}
	tokens, err := s.tokens.DeviceTokens(ctx, recipientID)
	if err != nil {
		s.logger.Warn("device token lookup failed", "user_id", recipientID, "error", err)
		return OutcomeFailed
	}
	if len(tokens) == 0 {
		return OutcomeNoChannel
	}

	sent := 0
	for _, token := range tokens {
		err := s.send(ctx, token, ev)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, errUnregistered):
			if derr := s.tokens.DeactivateToken(ctx, token); derr != nil {
				s.logger.Warn("deactivate token failed", "user_id", recipientID, "error", derr)
			}
		default:
			s.logger.Warn("FCM send failed", "user_id", recipientID, "kind", ev.Kind, "error", err)
		}
	}
	if sent == 0 {
		return OutcomeFailed
	}
	return OutcomeOK
}

func (s *FCMSender) send(ctx context.Context, token string, ev Event) error {
	var msg fcmMessage
	msg.Message.Token = token
	msg.Message.Notification = fcmNotification{Title: ev.Title(), Body: ev.Body()}
	msg.Message.Data = ev.Data()
	if ev.Kind == KindEmergency {
		msg.Message.Android = &fcmAndroid{Priority: "high"}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errUnregistered
	default:
		return fmt.Errorf("fcm status %d", resp.StatusCode)
	}
}
