package location

import (
	"context"
	"log/slog"

	"github.com/example/homeservice-dispatch/internal/models"
)

// Origin says which link of the fallback chain produced a location.
type Origin string

const (
	OriginLive    Origin = "live"
	OriginProfile Origin = "profile"
	OriginDefault Origin = "default"
)

// Resolver walks live position -> saved profile location -> default region.
// It always returns a usable location.
type Resolver struct {
	Provider *Provider
	Profiles ProfileStore
	Geocoder *Geocoder
	Default  models.Location
	Logger   *slog.Logger
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (models.Location, Origin) {
	if r.Provider != nil {
		if pos, ok := r.Provider.LastKnown(); ok {
			return r.labelled(ctx, pos.Coord), OriginLive
		}
		pos, err := r.Provider.Acquire(ctx)
		if err == nil {
			return r.labelled(ctx, pos.Coord), OriginLive
		}
		r.log().Warn("location_acquire_failed", "error", err)
	}
	if r.Profiles != nil && userID != "" {
		loc, ok, err := r.Profiles.Load(ctx, userID)
		if err != nil {
			r.log().Warn("profile_location_failed", "user_id", userID, "error", err)
		}
		if ok && loc.HasCoords() {
			if loc.Address == "" {
				loc.Address = CoordLabel(loc.Lat, loc.Lon)
			}
			return loc, OriginProfile
		}
	}
	def := r.Default
	if def.Address == "" {
		def.Address = CoordLabel(def.Lat, def.Lon)
	}
	return def, OriginDefault
}

func (r *Resolver) labelled(ctx context.Context, c models.Coord) models.Location {
	return models.Location{Lat: c.Lat, Lon: c.Lon, Address: r.Geocoder.Label(ctx, c.Lat, c.Lon)}
}

func (r *Resolver) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
