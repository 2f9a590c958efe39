package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/homeservice-dispatch/internal/models"
)

// fakeStore implements PingWriter and LastPositionWriter for tests
type fakeStore struct {
	failSave int // number of times to fail SavePing before succeeding
	failH    int // number of times to fail HSet before succeeding
	saves    int
	hCalls   int
	keys     []string
}

func (f *fakeStore) SavePing(ctx context.Context, p models.Ping) error {
	f.saves++
	if f.saves <= f.failSave {
		return errors.New("save fail")
	}
	return nil
}

func (f *fakeStore) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestArchiveWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeStore{failSave: 1, failH: 1}
	p := models.Ping{RideID: "r1", Lat: 1, Lon: 2, At: time.Now()}
	start := time.Now()
	if err := archiveWithRetry(context.Background(), f, f, p, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.saves < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got save=%d h=%d", f.saves, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.keys[0] != "ride:last:r1" {
		t.Fatalf("unexpected key %v", f.keys)
	}
}

func TestArchiveWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeStore{failSave: 5}
	if err := archiveWithRetry(context.Background(), f, nil, models.Ping{RideID: "r1"}, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeSkipsInvalidMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		{Value: []byte(`not json`)},
		{Value: []byte(`{"lat":1}`)},
		{Key: []byte("r1"), Value: []byte(`{"ride_id":"r1","lat":1,"lon":2,"timestamp":"2026-01-01T00:00:00Z"}`)},
	}}
	f := &fakeStore{}
	consume(ctx, r, f, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if f.saves != 1 {
		t.Fatalf("expected one archived ping, got %d", f.saves)
	}
}
