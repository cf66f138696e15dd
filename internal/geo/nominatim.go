package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Required by the Nominatim usage policy.
const userAgent = "FareShare/1.0 (ride-sharing platform; geocoding for route visualization)"

var (
	ErrUpstreamRateLimited = errors.New("nominatim rate limited")
	ErrUpstreamUnavailable = errors.New("nominatim unavailable")
	ErrNoAddress           = errors.New("no address found")
)

// NominatimClient proxies search/reverse lookups against an OpenStreetMap
// Nominatim server.
type NominatimClient struct {
	BaseURL string
	Client  *http.Client
}

func NewNominatimClient(baseURL string) *NominatimClient {
	return &NominatimClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{Timeout: 10 * time.Second}}
}

// Result is one normalized geocoding hit.
type Result struct {
	Label       string  `json:"label"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	PlaceType   string  `json:"place_type,omitempty"`
	Importance  float64 `json:"importance,omitempty"`
}

// ReverseResult is the normalized reverse-geocoding payload.
type ReverseResult struct {
	Label       string            `json:"label"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

func (c *NominatimClient) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrUpstreamRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Search geocodes a free-text query. Malformed upstream rows are skipped.
func (c *NominatimClient) Search(ctx context.Context, query string, limit int, countryCodes string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("addressdetails", "1")
	if countryCodes != "" {
		params.Set("countrycodes", countryCodes)
	}

	var raw []struct {
		Lat         string  `json:"lat"`
		Lon         string  `json:"lon"`
		DisplayName string  `json:"display_name"`
		Type        string  `json:"type"`
		Importance  float64 `json:"importance"`
		Name        string  `json:"name"`
	}
	if err := c.get(ctx, "search", params, &raw); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			continue
		}
		label := r.Name
		if label == "" {
			if r.DisplayName != "" {
				label = strings.SplitN(r.DisplayName, ",", 2)[0]
			} else {
				label = query
			}
		}
		out = append(out, Result{
			Label:       label,
			Lat:         lat,
			Lon:         lon,
			DisplayName: r.DisplayName,
			PlaceType:   r.Type,
			Importance:  r.Importance,
		})
	}
	return out, nil
}

// Reverse resolves coordinates to an address.
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64, zoom int) (*ReverseResult, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("zoom", strconv.Itoa(zoom))
	params.Set("addressdetails", "1")

	var raw struct {
		Error       string            `json:"error"`
		DisplayName string            `json:"display_name"`
		Address     map[string]string `json:"address"`
	}
	if err := c.get(ctx, "reverse", params, &raw); err != nil {
		return nil, err
	}
	if raw.Error != "" || raw.DisplayName == "" {
		return nil, ErrNoAddress
	}
	if raw.Address == nil {
		raw.Address = map[string]string{}
	}
	return &ReverseResult{
		Label:       ReverseLabel(raw.Address, raw.DisplayName),
		Lat:         lat,
		Lon:         lon,
		DisplayName: raw.DisplayName,
		Address:     raw.Address,
	}, nil
}

// ReverseLabel builds a short label from address components, preferring
// building > house number + road > road, then suburb > city > town > village.
func ReverseLabel(address map[string]string, displayName string) string {
	parts := make([]string, 0, 3)

	if b := address["building"]; b != "" {
		parts = append(parts, b)
	} else if address["house_number"] != "" && address["road"] != "" {
		parts = append(parts, address["house_number"]+" "+address["road"])
	} else if r := address["road"]; r != "" {
		parts = append(parts, r)
	}

	for _, key := range []string{"suburb", "city", "town", "village"} {
		if v := address[key]; v != "" {
			parts = append(parts, v)
			break
		}
	}

	if len(parts) == 0 {
		return strings.SplitN(displayName, ",", 2)[0]
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ", ")
}
