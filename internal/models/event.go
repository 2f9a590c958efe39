package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type Source string

const (
	SourcePush       Source = "push"
	SourceChangefeed Source = "changefeed"
	SourcePoll       Source = "poll"
	SourceLocal      Source = "local"
)

type Entity string

const (
	EntityJob          Entity = "job"
	EntityTechnician   Entity = "technician"
	EntityNotification Entity = "notification"
	EntityChat         Entity = "chat"
	EntityAccount      Entity = "account"
	EntityStats        Entity = "stats"
)

// Push-channel event names.
const (
	EventJobStatusUpdated    = "job_status_updated"
	EventTechnicianStatus    = "technician_status_update"
	EventTechnicianLocation  = "technician_location_update"
	EventNewNotification     = "new_notification"
	EventGeneralBroadcast    = "general_broadcast"
	EventReceiveMessage      = "receive_message"
	EventMembershipUpdate    = "membership_update"
	EventAccountStatusChange = "account_status_change"
	EventStatsRefreshed      = "stats_refreshed"
	EmitJoinRoom             = "join_room"
	EmitUpdateLocation       = "update_location"
	EmitRideLocationUpdate   = "ride_location_update"
	EmitSendMessage          = "send_message"
)

// RealtimeEvent is the normalized envelope every inbound item is turned into,
// whichever transport delivered it.
type RealtimeEvent struct {
	Source     Source          `json:"source"`
	Entity     Entity          `json:"entity"`
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Key identifies an exact delivery: the same payload for the same entity from
// the same source yields the same key.
func (e RealtimeEvent) Key() string {
	sum := sha256.Sum256(e.Payload)
	return string(e.Source) + "|" + string(e.Entity) + "|" + e.ID + "|" + hex.EncodeToString(sum[:8])
}

// Decode unmarshals the payload into v.
func (e RealtimeEvent) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type TechnicianStatusUpdate struct {
	TechnicianID string           `json:"technicianId"`
	Status       TechnicianStatus `json:"status"`
}

type TechnicianLocationUpdate struct {
	TechnicianID string `json:"technicianId"`
	Location     Coord  `json:"location"`
}

type AccountStatus struct {
	Status string `json:"status"`
}

// Stats is the aggregate snapshot returned by the heartbeat endpoint.
type Stats struct {
	ActiveJobs        int `json:"active_jobs"`
	PendingJobs       int `json:"pending_jobs"`
	OnlineTechnicians int `json:"online_technicians"`
}

// LocationEmission is the body of update_location.
type LocationEmission struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Location Coord  `json:"location"`
}

// RideLocationEmission is the body of ride_location_update.
type RideLocationEmission struct {
	RideID       string `json:"rideId"`
	Location     Ping   `json:"location"`
	UserID       string `json:"userId"`
	TechnicianID string `json:"technicianId"`
}
