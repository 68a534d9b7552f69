package isochrone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// maxBody caps the response size read from the isochrone service.
const maxBody = 8 << 20

// Fetcher computes the area reachable from center within minutes.
type Fetcher interface {
	Fetch(ctx context.Context, center orb.Point, minutes int, mode string) (orb.Polygon, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, center orb.Point, minutes int, mode string) (orb.Polygon, error)

func (f FetcherFunc) Fetch(ctx context.Context, center orb.Point, minutes int, mode string) (orb.Polygon, error) {
	return f(ctx, center, minutes, mode)
}

// HTTPError is a non-2xx answer from the service.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("isochrone: service returned %d", e.StatusCode)
}

// Client calls an isochrone service with
// GET <base>?lng=&lat=&minutes=&mode=[&token=].
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) requestURL(center orb.Point, minutes int, mode string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("isochrone: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("lng", strconv.FormatFloat(center.Lon(), 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(center.Lat(), 'f', -1, 64))
	q.Set("minutes", strconv.Itoa(minutes))
	q.Set("mode", mode)
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Fetch(ctx context.Context, center orb.Point, minutes int, mode string) (orb.Polygon, error) {
	target, err := c.requestURL(center, minutes, mode)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("isochrone: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.CopyN(io.Discard, resp.Body, 512)
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("isochrone: read body: %w", err)
	}
	return ParsePolygon(body)
}

// ParsePolygon extracts the first polygon from a GeoJSON FeatureCollection,
// Feature or bare geometry. A MultiPolygon yields its first member.
func ParsePolygon(data []byte) (orb.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("isochrone: decode response: %w", err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("isochrone: decode feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("isochrone: decode feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("isochrone: decode geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			if ValidPolygon(v) {
				return v, nil
			}
		case orb.MultiPolygon:
			for _, p := range v {
				if ValidPolygon(p) {
					return p, nil
				}
			}
		}
	}
	return nil, ErrNoPolygon
}
