// weather.go implements the weather tool against an Open-Meteo style
// forecast endpoint (no API key).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
)

// defaultWeatherEndpoint is the keyless forecast API.
const defaultWeatherEndpoint = "https://api.open-meteo.com/v1/forecast"

// WeatherTool fetches current conditions and a short forecast.
type WeatherTool struct {
	cfg    config.WeatherToolConfig
	client *http.Client
}

// NewWeatherTool creates the weather tool.
func NewWeatherTool(cfg config.WeatherToolConfig) *WeatherTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultWeatherEndpoint
	}
	return &WeatherTool{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WeatherTool) Name() string { return "weather" }
func (t *WeatherTool) Init() error  { return nil }

func (t *WeatherTool) KnownArgs() []string {
	return []string{"latitude", "longitude", "days"}
}

func (t *WeatherTool) Run(ctx context.Context, args map[string]any) Result {
	lat := floatArg(args, "latitude", t.cfg.Latitude)
	lon := floatArg(args, "longitude", t.cfg.Longitude)
	if lat == 0 && lon == 0 {
		return Errorf("missing required parameter %q (no default location configured)", "latitude")
	}
	days := intArg(args, "days", 3)
	if days < 1 || days > 14 {
		days = 3
	}

	u := fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&current_weather=true&daily=temperature_2m_max,temperature_2m_min,precipitation_sum&forecast_days=%d&timezone=auto",
		t.cfg.Endpoint, lat, lon, days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Errorf("building weather request: %v", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("weather request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Errorf("weather API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Errorf("reading weather response: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Errorf("decoding weather response: %v", err)
	}

	return OK(map[string]any{
		"latitude":  lat,
		"longitude": lon,
		"current":   payload["current_weather"],
		"daily":     payload["daily"],
	})
}

func (t *WeatherTool) Context() string {
	return `Weather forecast. {latitude?: number, longitude?: number, days?: int}
Defaults to the configured home location.
→ {success, current, daily}`
}
