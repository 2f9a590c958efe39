package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

// WebhookAlerter delivers desktop alerts through an FCM-style HTTP push
// endpoint. Delivery is best effort.
type WebhookAlerter struct {
	Endpoint string
	Key      string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhookAlerter(endpoint, key string, logger *slog.Logger) *WebhookAlerter {
	return &WebhookAlerter{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}, Logger: logger}
}

func (w *WebhookAlerter) Alert(n models.Notification) {
	if err := w.send(context.Background(), n); err != nil {
		w.Logger.Warn("alert_delivery_failed", "id", n.ID, "error", err)
	}
}

func (w *WebhookAlerter) send(ctx context.Context, n models.Notification) error {
	body := map[string]any{"message": map[string]any{
		"notification": map[string]string{"title": n.Title, "body": n.Message},
		"data":         map[string]string{"id": n.ID, "job_id": n.JobID, "status": string(n.Status)},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Key != "" {
		req.Header.Set("Authorization", "key="+w.Key)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
	}
	return nil
}
