package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a coordinate plus the human label it was resolved to.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

func (l Location) Coord() Coord { return Coord{Lat: l.Lat, Lon: l.Lon} }

// HasCoords reports whether the location carries resolved coordinates.
// An address string alone is not enough for assignment.
func (l Location) HasCoords() bool { return l.Lat != 0 || l.Lon != 0 }

type Technician struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	Status   TechnicianStatus `json:"status"`
	Loc      Coord            `json:"location"`
	Rating   float64          `json:"rating"` // 0..5
	Services []string         `json:"services,omitempty"`

	// computed client-side, never sent back to the server
	DistanceKm float64 `json:"distance_from_requester"`
	Bookable   bool    `json:"bookable"`
	Label      string  `json:"label,omitempty"`
	ETA        float64 `json:"eta_seconds,omitempty"`
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Job struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	ServiceType  string    `json:"service_type"`
	Location     Location  `json:"location"`
	TechnicianID string    `json:"technician_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	OfferPrice   *float64  `json:"offer_price,omitempty"`
	Contact      Contact   `json:"contact"`
	ScheduledAt  time.Time `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BookingDraft accumulates a job request across the booking flow.
type BookingDraft struct {
	ServiceType    string    `json:"service_type"`
	Location       Location  `json:"location"`
	ScheduledAt    time.Time `json:"scheduled_at,omitempty"`
	Contact        Contact   `json:"contact"`
	Description    string    `json:"description,omitempty"`
	TechnicianID   *string   `json:"technician_id"` // nil means smart-assign
	VisitingCharge float64   `json:"visiting_charge,omitempty"`
	TermsAccepted  bool      `json:"terms_accepted"`
}

// Ping is one position sample of a ride.
type Ping struct {
	RideID  string    `json:"ride_id"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	Heading float64   `json:"heading"`
	At      time.Time `json:"timestamp"`
}

func (p Ping) Coord() Coord { return Coord{Lat: p.Lat, Lon: p.Lon} }

type Ride struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	TechnicianID string    `json:"technician_id"`
	UserID       string    `json:"user_id"`
	Destination  Coord     `json:"destination"`
	Pings        []Ping    `json:"pings"`
	Active       bool      `json:"active"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Broadcast bool      `json:"broadcast,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the client's cached copy of the signed-in user record. The
// server sends partial records on membership_update.
type Profile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Membership string    `json:"membership,omitempty"`
	Location   *Location `json:"location,omitempty"`
}
