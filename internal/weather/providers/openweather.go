package providers

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-etl/internal/weather"
)

// DefaultOpenWeatherURL is the current-conditions endpoint.
const DefaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *resty.Client
	circuit *gobreaker.CircuitBreaker
}

// Option customizes an OpenWeatherProvider.
type Option func(*OpenWeatherProvider)

// WithBaseURL points the provider at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(p *OpenWeatherProvider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

func NewOpenWeatherProvider(client *resty.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	p := &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: DefaultOpenWeatherURL,
		client:  client,
		circuit: newCircuitBreaker("openweather"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Fetch requests current conditions for loc. Temperatures stay in Kelvin
// (no units parameter); the transform stage converts them.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: openweather api key is not configured", weather.ErrConfig)
	}

	return doRequest(p.client, p.circuit, func(r *resty.Request) (*resty.Response, error) {
		return r.SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"q":     loc.Query(),
				"appid": p.apiKey,
			}).
			Get(p.baseURL)
	})
}
