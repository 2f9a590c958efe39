package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
)

var ErrNotConnected = errors.New("push channel not connected")

const (
	writeWait  = 10 * time.Second
	maxBackoff = 30 * time.Second
)

// Identity scopes the push connection to one session room.
type Identity struct {
	UserID string
	Role   string
	Room   string
	Token  string
}

// PushConn is the one bidirectional connection of a session. Reads are
// normalized onto the hub; writes are serialized through Emit.
type PushConn struct {
	URL      string
	Identity Identity
	Dialer   *websocket.Dialer
	// Position reports the device position to announce on connect, if known.
	Position func() (models.Coord, bool)
	Logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// Run dials, announces room membership and reads frames until ctx ends.
// Disconnects are logged and redialled with capped backoff; the heartbeat
// poll covers whatever is missed in between.
func (p *PushConn) Run(ctx context.Context, out chan<- models.RealtimeEvent) error {
	backoff := time.Second
	for {
		conn, err := p.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Logger.Warn("push_dial_failed", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			observability.PushReconnects.Inc()
			continue
		}
		backoff = time.Second
		p.attach(conn)
		p.announce()
		observability.PushConnected.Set(1)
		p.Logger.Info("push_connected", "room", p.Identity.Room)

		// unblock ReadJSON when the session ends
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = p.readLoop(ctx, conn, out)
		stop()
		p.detach(conn)
		observability.PushConnected.Set(0)
		if ctx.Err() != nil {
			return nil
		}
		p.Logger.Warn("push_disconnected", "error", err)
		if !sleep(ctx, backoff) {
			return nil
		}
		observability.PushReconnects.Inc()
	}
}

func (p *PushConn) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if p.Identity.Token != "" {
		q.Set("token", p.Identity.Token)
	}
	u.RawQuery = q.Encode()
	h := http.Header{}
	if p.Identity.Token != "" {
		h.Set("Authorization", "Bearer "+p.Identity.Token)
	}
	d := p.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, u.String(), h)
	return conn, err
}

func (p *PushConn) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.RealtimeEvent) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		ev, ok := FromPush(f.Event, f.Data, time.Now())
		if !ok {
			observability.EventsDropped.WithLabelValues(string(models.SourcePush)).Inc()
			p.Logger.Debug("push_event_ignored", "event", f.Event)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// announce re-joins the room and shares the device position once.
func (p *PushConn) announce() {
	if err := p.Emit(models.EmitJoinRoom, p.Identity.Room); err != nil {
		p.Logger.Warn("join_room_failed", "error", err)
	}
	if p.Position == nil {
		return
	}
	if c, ok := p.Position(); ok {
		body := models.LocationEmission{UserID: p.Identity.UserID, Role: p.Identity.Role, Location: c}
		if err := p.Emit(models.EmitUpdateLocation, body); err != nil {
			p.Logger.Warn("update_location_failed", "error", err)
		}
	}
}

// Emit writes one client->server event. Callers outside this package go
// through Hub.Emit.
func (p *PushConn) Emit(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(frame{Event: event, Data: b})
}

func (p *PushConn) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *PushConn) attach(c *websocket.Conn) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

func (p *PushConn) detach(c *websocket.Conn) {
	p.mu.Lock()
	if p.conn == c {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = c.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
