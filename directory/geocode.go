package directory

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"
)

// ErrNoAddress is returned when a coordinate has no known address.
var ErrNoAddress = errors.New("no address found for location")

// Geocoder resolves coordinates to a street address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// GoogleGeocoder uses the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode failed: %w", err)
	}
	if len(results) == 0 {
		return "", ErrNoAddress
	}
	return results[0].FormattedAddress, nil
}
