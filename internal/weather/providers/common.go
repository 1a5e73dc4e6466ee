package providers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-etl/internal/weather"
)

var (
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
	errNoClient    = fmt.Errorf("%w: http client not configured", weather.ErrConfig)
)

// maxErrorBody bounds how much of a failed response body ends up in errors.
const maxErrorBody = 256

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequest sends one request through the circuit breaker and returns the body
// of a 200 response. Every failure wraps weather.ErrNetwork. There is no retry
// here; re-attempts belong to the scheduler.
func doRequest(client *resty.Client, cb *gobreaker.CircuitBreaker, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	if client == nil {
		return nil, errNoClient
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := send(client.R())
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%w: %d %s", errUnexpected, resp.StatusCode(), truncate(resp.Body()))
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v: %v", weather.ErrNetwork, errCircuitOpen, err)
		}
		return nil, fmt.Errorf("%w: %v", weather.ErrNetwork, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
