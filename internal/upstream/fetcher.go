package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
)

const maxBodyBytes = 64 << 10

// HTTPFetcher queries a device's upstream data source with the device's
// own credentials.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, device domain.Device) (pipeline.RawSample, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return pipeline.RawSample{}, fmt.Errorf("%w: bad upstream url: %w", domain.ErrUpstreamUnavailable, err)
	}
	q := u.Query()
	q.Set("device_id", device.ID)
	q.Set("device_password", device.Secret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pipeline.RawSample{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return pipeline.RawSample{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return pipeline.RawSample{}, fmt.Errorf("%w: read body: %w", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.RawSample{}, fmt.Errorf("%w: status %d: %s",
			domain.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return Decode(device.ID, body)
}

// Decode maps an upstream response body onto a RawSample. Field values are
// left for the pipeline to validate.
func Decode(deviceID string, body []byte) (pipeline.RawSample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return pipeline.RawSample{}, fmt.Errorf("%w: decode body: %w", domain.ErrInvalidPayload, err)
	}

	if id, ok := fields["device_id"]; ok {
		if got := token(id); got != "" && got != deviceID {
			return pipeline.RawSample{}, fmt.Errorf("%w: response is for device %q, expected %q",
				domain.ErrInvalidPayload, got, deviceID)
		}
	}

	charge := fields["Charge"]
	if len(charge) == 0 {
		charge = fields["charge"]
	}

	return pipeline.RawSample{
		DeviceID:    deviceID,
		Latitude:    fields["latitude"],
		Longitude:   fields["longitude"],
		Altitude:    fields["altitude"],
		Speed:       fields["speed"],
		Heading:     fields["heading"],
		Charge:      charge,
		Timestamp:   fields["event_time"],
		PowerSource: fields["power_source"],
		Origin:      pipeline.OriginPoll,
		Payload:     body,
	}, nil
}

func token(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	t := strings.TrimSpace(string(v))
	if t == "null" {
		return ""
	}
	return t
}
