package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
)

// Dispatcher hands committed alerts to the publisher without blocking the
// ingest path. Alerts that do not fit in the buffer are dropped and counted.
type Dispatcher struct {
	AlertChan chan domain.Alert
}

func NewDispatcher(alertSize int) *Dispatcher {
	return &Dispatcher{
		AlertChan: make(chan domain.Alert, alertSize),
	}
}

func (d *Dispatcher) Dispatch(a domain.Alert) {
	select {
	case d.AlertChan <- a:
	default:
		metrics.AlertChannelDrops.Add(1)
	}
}

// Close stops intake; publishers drain what is buffered and return.
func (d *Dispatcher) Close() {
	close(d.AlertChan)
}

type AlertPublisher interface {
	PublishAlert(ctx context.Context, deviceID string, payload []byte) error
}

type Publisher struct {
	ch  <-chan domain.Alert
	pub AlertPublisher
	log *slog.Logger
}

func NewPublisher(ch <-chan domain.Alert, pub AlertPublisher, log *slog.Logger) *Publisher {
	return &Publisher{ch: ch, pub: pub, log: log}
}

// Run publishes alerts until the channel is closed. Publishing outlives ctx
// so alerts buffered at shutdown still go out.
func (p *Publisher) Run(ctx context.Context) {
	pubCtx := context.WithoutCancel(ctx)
	for a := range p.ch {
		payload, err := json.Marshal(a)
		if err != nil {
			p.log.Error("alert encode failed", "alert_id", a.ID, "error", err)
			continue
		}
		if err := p.pub.PublishAlert(pubCtx, a.DeviceID, payload); err != nil {
			metrics.AlertPublishFailures.Add(1)
			p.log.Warn("alert publish failed", "device_id", a.DeviceID, "kind", a.Kind, "error", err)
		}
	}
}
