package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Place is a reverse-geocoded label.
type Place struct {
	City        string `json:"city"`
	Area        string `json:"area"`
	FullAddress string `json:"full_address"`
}

// Geocoder resolves coordinates against a Nominatim-compatible /reverse endpoint.
type Geocoder struct {
	Endpoint string
	Client   *http.Client

	mu    sync.RWMutex
	cache map[string]Place
}

func NewGeocoder(endpoint string) *Geocoder {
	return &Geocoder{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: 8 * time.Second},
		cache:    make(map[string]Place),
	}
}

// Reverse returns the place at lat/lon or ErrUnavailable.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	key := CoordLabel(lat, lon)
	g.mu.RLock()
	p, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return p, nil
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var out struct {
		DisplayName string `json:"display_name"`
		Address     struct {
			City          string `json:"city"`
			Town          string `json:"town"`
			Village       string `json:"village"`
			Suburb        string `json:"suburb"`
			Neighbourhood string `json:"neighbourhood"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.DisplayName == "" {
		return Place{}, ErrUnavailable
	}
	p = Place{
		City:        firstNonEmpty(out.Address.City, out.Address.Town, out.Address.Village),
		Area:        firstNonEmpty(out.Address.Suburb, out.Address.Neighbourhood),
		FullAddress: out.DisplayName,
	}
	g.mu.Lock()
	g.cache[key] = p
	g.mu.Unlock()
	return p, nil
}

// Label never fails: when reverse geocoding is unavailable the coordinates
// themselves become the label.
func (g *Geocoder) Label(ctx context.Context, lat, lon float64) string {
	if g == nil {
		return CoordLabel(lat, lon)
	}
	p, err := g.Reverse(ctx, lat, lon)
	if err != nil {
		return CoordLabel(lat, lon)
	}
	return p.FullAddress
}

func CoordLabel(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
