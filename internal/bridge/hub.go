package bridge

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/model"
)

// Event types carried in the "type" field of every subscription event.
const (
	EventDeviceUpdate        = "device_update"
	EventGraphUpdate         = "graph_update"
	EventConfigurationStatus = "configuration_status"
	EventNotification        = "notification"
	EventRebooting           = "rebooting"
)

// DefaultSubscriberBuffer is the per-subscriber event backlog.
const DefaultSubscriberBuffer = 256

// Hub fans supervisor events out to bridge subscribers. Each event is
// encoded once. A subscriber whose buffer is full misses the event.
type Hub struct {
	buffer  int
	log     logging.Logger
	metrics *observability.BridgeCollector

	mu     sync.Mutex
	subs   map[uint64]chan *structpb.Struct
	nextID uint64
	done   chan struct{}
	closed bool
}

// NewHub returns a Hub. buffer <= 0 selects DefaultSubscriberBuffer.
func NewHub(buffer int, log logging.Logger, metrics *observability.BridgeCollector) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		buffer:  buffer,
		log:     log,
		metrics: metrics,
		subs:    make(map[uint64]chan *structpb.Struct),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a subscriber. The returned channel is never closed;
// watch Done to learn about hub shutdown. cancel must be called once the
// subscriber is gone.
func (h *Hub) Subscribe() (events <-chan *structpb.Struct, cancel func()) {
	ch := make(chan *structpb.Struct, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			n := len(h.subs)
			h.mu.Unlock()
			h.metrics.SetSubscribers(n)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Done is closed by Close.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Close ends every subscription stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// DeviceUpdated implements supervisor.Notifier.
func (h *Hub) DeviceUpdated(d *model.MeshDevice) {
	h.publish(EventDeviceUpdate, d)
}

// GraphUpdated implements supervisor.Notifier.
func (h *Hub) GraphUpdated(edges *geojson.FeatureCollection) {
	h.publish(EventGraphUpdate, edges)
}

// ConfigurationStatus implements supervisor.Notifier.
func (h *Hub) ConfigurationStatus(st model.ConfigurationStatus) {
	h.publish(EventConfigurationStatus, st)
}

type notification struct {
	DeviceKey model.DeviceKey `json:"device_key"`
	model.NotificationConfig
}

// Notify implements supervisor.Notifier.
func (h *Hub) Notify(key model.DeviceKey, n model.NotificationConfig) {
	h.publish(EventNotification, notification{DeviceKey: key, NotificationConfig: n})
}

type rebooting struct {
	DeviceKey model.DeviceKey `json:"device_key"`
}

// Rebooting implements supervisor.Notifier.
func (h *Hub) Rebooting(key model.DeviceKey) {
	h.publish(EventRebooting, rebooting{DeviceKey: key})
}

func (h *Hub) publish(eventType string, payload any) {
	h.mu.Lock()
	targets := make([]chan *structpb.Struct, 0, len(h.subs))
	for _, ch := range h.subs {
		targets = append(targets, ch)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	body, err := toStruct(payload)
	if err != nil {
		h.log.Error(context.Background(), "failed to encode bridge event",
			logging.String("event", eventType), logging.Err(err))
		return
	}
	event := &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":    structpb.NewStringValue(eventType),
		"payload": structpb.NewStructValue(body),
	}}

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			h.log.Warn(context.Background(), "bridge subscriber is behind, dropping event",
				logging.String("event", eventType))
		}
	}
}
