package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/homeservice-dispatch/internal/models"
)

func TestWebhookAlerterPostsNotification(t *testing.T) {
	got := make(chan map[string]any, 1)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
	}))
	defer srv.Close()

	a := NewWebhookAlerter(srv.URL, "k1", quiet())
	a.Alert(models.Notification{ID: "n1", Title: "Technician assigned", Message: "on the way", JobID: "j1"})

	body := <-got
	msg := body["message"].(map[string]any)
	if msg["notification"].(map[string]any)["title"] != "Technician assigned" || msg["data"].(map[string]any)["job_id"] != "j1" {
		t.Fatalf("unexpected body %v", body)
	}
	if auth != "key=k1" {
		t.Fatalf("unexpected auth %q", auth)
	}
}

func TestWebhookAlerterSurvivesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()
	a := NewWebhookAlerter(srv.URL, "", quiet())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := a.send(ctx, models.Notification{ID: "n1"}); err == nil {
		t.Fatal("expected error on 500")
	}
	a.Alert(models.Notification{ID: "n1"})
}
