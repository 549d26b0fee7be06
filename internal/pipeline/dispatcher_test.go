package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	err      error
}

func (p *recordingPublisher) PublishAlert(ctx context.Context, deviceID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.payloads == nil {
		p.payloads = make(map[string][][]byte)
	}
	p.payloads[deviceID] = append(p.payloads[deviceID], payload)
	return nil
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1)
	before := metrics.AlertChannelDrops.Load()

	d.Dispatch(domain.Alert{ID: "a1"})
	d.Dispatch(domain.Alert{ID: "a2"})

	assert.Equal(t, before+1, metrics.AlertChannelDrops.Load())
	assert.Equal(t, "a1", (<-d.AlertChan).ID)
}

func TestPublisher_DrainsAfterClose(t *testing.T) {
	d := NewDispatcher(8)
	pub := &recordingPublisher{}
	p := NewPublisher(d.AlertChan, pub, discardLogger())

	d.Dispatch(domain.Alert{ID: "a1", DeviceID: "dev-1", Kind: domain.AlertSpeed})
	d.Dispatch(domain.Alert{ID: "a2", DeviceID: "dev-2", Kind: domain.AlertIdle})
	d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	require.Len(t, pub.payloads["dev-1"], 1)
	require.Len(t, pub.payloads["dev-2"], 1)

	var got domain.Alert
	require.NoError(t, json.Unmarshal(pub.payloads["dev-1"][0], &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, domain.AlertSpeed, got.Kind)
}

func TestPublisher_CountsFailures(t *testing.T) {
	d := NewDispatcher(8)
	p := NewPublisher(d.AlertChan, &recordingPublisher{err: errors.New("redis down")}, discardLogger())
	before := metrics.AlertPublishFailures.Load()

	d.Dispatch(domain.Alert{ID: "a1", DeviceID: "dev-1"})
	d.Close()
	p.Run(context.Background())

	assert.Equal(t, before+1, metrics.AlertPublishFailures.Load())
}
