package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/homeservice-dispatch/internal/models"
)

type fakeWriter struct{ msgs []kafka.Message }

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		panic("write without deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestSavePingKeyedByRide(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaProducerWith(w)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := k.SavePing(context.Background(), models.Ping{RideID: "r1", Lat: 12.9, Lon: 77.6, Heading: 90, At: at}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "r1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	p, err := DecodePing(w.msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if p.RideID != "r1" || p.Heading != 90 || !p.At.Equal(at) {
		t.Fatalf("round trip mismatch %+v", p)
	}
}
