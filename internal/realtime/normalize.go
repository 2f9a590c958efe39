package realtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

// frame is the push-channel wire shape in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var pushEntities = map[string]models.Entity{
	models.EventJobStatusUpdated:    models.EntityJob,
	models.EventTechnicianStatus:    models.EntityTechnician,
	models.EventTechnicianLocation:  models.EntityTechnician,
	models.EventNewNotification:     models.EntityNotification,
	models.EventGeneralBroadcast:    models.EntityNotification,
	models.EventReceiveMessage:      models.EntityChat,
	models.EventMembershipUpdate:    models.EntityAccount,
	models.EventAccountStatusChange: models.EntityAccount,
}

// FromPush normalizes a push-channel frame. Unknown event names are not an
// error; the caller counts and drops them.
func FromPush(event string, data json.RawMessage, at time.Time) (models.RealtimeEvent, bool) {
	entity, ok := pushEntities[event]
	if !ok {
		return models.RealtimeEvent{}, false
	}
	return build(models.SourcePush, entity, event, data, at)
}

// change is the change-feed envelope shared by the Postgres and Kafka feeds.
type change struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

// FromChange normalizes one change-feed row mutation into the same event the
// push channel would have produced for it.
func FromChange(raw []byte, at time.Time) (models.RealtimeEvent, bool) {
	var c change
	if err := json.Unmarshal(raw, &c); err != nil || len(c.Record) == 0 {
		return models.RealtimeEvent{}, false
	}
	switch strings.ToLower(c.Table) {
	case "jobs":
		if strings.EqualFold(c.Type, "DELETE") {
			return models.RealtimeEvent{}, false
		}
		return build(models.SourceChangefeed, models.EntityJob, models.EventJobStatusUpdated, c.Record, at)
	case "chats":
		if !strings.EqualFold(c.Type, "INSERT") {
			return models.RealtimeEvent{}, false
		}
		return build(models.SourceChangefeed, models.EntityChat, models.EventReceiveMessage, c.Record, at)
	}
	return models.RealtimeEvent{}, false
}

// FromJob wraps an authoritative job snapshot fetched over HTTP, or a job the
// client just created, as an event.
func FromJob(src models.Source, job models.Job, at time.Time) models.RealtimeEvent {
	b, _ := json.Marshal(job)
	return models.RealtimeEvent{Source: src, Entity: models.EntityJob, Kind: models.EventJobStatusUpdated, ID: job.ID, Payload: b, ReceivedAt: at}
}

func FromStats(st models.Stats, at time.Time) models.RealtimeEvent {
	b, _ := json.Marshal(st)
	return models.RealtimeEvent{Source: models.SourcePoll, Entity: models.EntityStats, Kind: models.EventStatsRefreshed, ID: "stats", Payload: b, ReceivedAt: at}
}

func build(src models.Source, entity models.Entity, kind string, data json.RawMessage, at time.Time) (models.RealtimeEvent, bool) {
	id := entityID(entity, data)
	if id == "" {
		if entity != models.EntityNotification && entity != models.EntityAccount {
			return models.RealtimeEvent{}, false
		}
		// notifications without a server id are keyed by content
		sum := sha256.Sum256(data)
		id = contentIDPrefix + hex.EncodeToString(sum[:8])
	}
	return models.RealtimeEvent{Source: src, Entity: entity, Kind: kind, ID: id, Payload: data, ReceivedAt: at}, true
}

const contentIDPrefix = "h:"

// stateSlot names the piece of state an event describes, independent of its
// content and of the transport that carried it. Content-derived ids are
// dropped so successive account updates share one slot.
func stateSlot(ev models.RealtimeEvent) string {
	id := ev.ID
	if strings.HasPrefix(id, contentIDPrefix) {
		id = ""
	}
	return string(ev.Entity) + "|" + ev.Kind + "|" + id
}

func payloadHash(ev models.RealtimeEvent) string {
	sum := sha256.Sum256(ev.Payload)
	return hex.EncodeToString(sum[:8])
}

var idKeys = map[models.Entity][]string{
	models.EntityJob:          {"id", "_id", "jobId", "job_id"},
	models.EntityTechnician:   {"technicianId", "technician_id", "id"},
	models.EntityNotification: {"id", "_id"},
	models.EntityChat:         {"id", "_id", "messageId"},
	models.EntityAccount:      {"userId", "id", "_id"},
}

func entityID(entity models.Entity, data json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	for _, k := range idKeys[entity] {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
