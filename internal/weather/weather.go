// Package weather fetches the current ambient temperature from the Visual
// Crossing timeline API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrTemperatureFetch wraps every failure to obtain a reading.
var ErrTemperatureFetch = errors.New("temperature fetch failed")

// Temperature is a reading in degrees Celsius. The zero value is unavailable.
type Temperature struct {
	Celsius   float64
	Available bool
}

// Unavailable is the sentinel shown when no reading could be obtained.
var Unavailable = Temperature{}

// Reading builds an available temperature.
func Reading(celsius float64) Temperature {
	return Temperature{Celsius: celsius, Available: true}
}

// Display renders the value the way the page shows it: "Unavailable" or the
// shortest decimal form of the reading.
func (t Temperature) Display() string {
	if !t.Available {
		return "Unavailable"
	}
	return strconv.FormatFloat(t.Celsius, 'f', -1, 64)
}

// Provider returns the current temperature for a location.
type Provider interface {
	FetchCurrent(ctx context.Context, location string) (Temperature, error)
}

// Client talks to the timeline endpoint over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates a client. A nil httpClient gets a client with the given timeout.
func NewClient(endpoint, apiKey string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     httpClient,
	}
}

type timelineResponse struct {
	CurrentConditions *struct {
		Temp *float64 `json:"temp"`
	} `json:"currentConditions"`
}

// FetchCurrent requests the current conditions for location.
func (c *Client) FetchCurrent(ctx context.Context, location string) (Temperature, error) {
	q := url.Values{}
	q.Set("unitGroup", "metric")
	q.Set("key", c.apiKey)
	q.Set("contentType", "json")
	target := c.endpoint + "/" + url.PathEscape(location) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Unavailable, fmt.Errorf("%w: build request: %v", ErrTemperatureFetch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Unavailable, fmt.Errorf("%w: %v", ErrTemperatureFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Unavailable, fmt.Errorf("%w: status %d: %s", ErrTemperatureFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Unavailable, fmt.Errorf("%w: decode response: %v", ErrTemperatureFetch, err)
	}
	if payload.CurrentConditions == nil || payload.CurrentConditions.Temp == nil {
		return Unavailable, fmt.Errorf("%w: response has no currentConditions.temp", ErrTemperatureFetch)
	}

	return Reading(*payload.CurrentConditions.Temp), nil
}
