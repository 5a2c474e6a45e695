package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

const (
	defaultHTTPStatusThreshold = 300
	webhookTimeout             = 5 * time.Second
)

// WebhookService posts security events as JSON to a configured URL.
type WebhookService struct {
	client     *http.Client
	log        *zap.SugaredLogger
	webhookURL string
}

func NewWebhookService(log *zap.SugaredLogger, webhookURL string) *WebhookService {
	return &WebhookService{
		client:     &http.Client{Timeout: webhookTimeout},
		log:        log,
		webhookURL: webhookURL,
	}
}

func (s *WebhookService) Notify(ctx context.Context, event models.SecurityEvent) {
	if s.webhookURL == "" {
		return
	}
	// The request context ends with the response; delivery must outlive it.
	ctx = context.WithoutCancel(ctx)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Errorw("failed to marshal webhook payload", "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			s.log.Errorw("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send webhook", "error", err, "event", event.Type)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("webhook returned non-2xx status", "status", resp.StatusCode, "event", event.Type)
		}
	}()
}
