// Package dispatch applies decoded packets to a device's state.
//
// The dispatcher only touches the device it is handed. Everything visible
// outside that device (UI pushes, graph rebuilds, notifications) is left to
// the caller, which reads the returned MutationSummary.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

// ErrMalformedPacket is wrapped by every dispatch error caused by packet
// content.
var ErrMalformedPacket = errors.New("malformed packet")

// Error reports a packet that could not be applied. The device is left
// exactly as it was before the packet.
type Error struct {
	Kind packet.Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func malformed(kind packet.Kind, format string, args ...any) error {
	return &Error{
		Kind: kind,
		Err:  fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...)),
	}
}

// MutationSummary lists the side effects a packet calls for.
type MutationSummary struct {
	DeviceUpdated        bool
	RegenerateGraph      bool
	ConfigurationSuccess bool
	Rebooting            bool

	// NotificationConfig is set when the packet should raise a user
	// notification.
	NotificationConfig *model.NotificationConfig
}

// Empty reports whether the packet asked for nothing.
func (s MutationSummary) Empty() bool {
	return !s.DeviceUpdated && !s.RegenerateGraph && !s.ConfigurationSuccess &&
		!s.Rebooting && s.NotificationConfig == nil
}

// Dispatcher routes packets to per-kind handlers.
type Dispatcher struct {
	clock timectrl.Clock
}

// New returns a Dispatcher stamping times from clock (real time if nil).
func New(clock timectrl.Clock) *Dispatcher {
	if clock == nil {
		clock = timectrl.Real()
	}
	return &Dispatcher{clock: clock}
}

// HandlePacket applies p to device. Packets are validated before any field
// is written, so an error never leaves partial state behind.
func (d *Dispatcher) HandlePacket(device *model.MeshDevice, p packet.Packet) (MutationSummary, error) {
	if device == nil {
		return MutationSummary{}, &Error{Kind: kindOf(p), Err: errors.New("nil device")}
	}
	if p == nil {
		return MutationSummary{}, malformed(packet.KindUnknown, "nil packet")
	}
	device.EnsureMaps()

	switch pkt := p.(type) {
	case packet.Channel:
		return d.handleChannel(device, pkt)
	case packet.Config:
		return handleSection(device.Config, pkt.Kind(), pkt.Section, pkt.Values)
	case packet.ModuleConfig:
		return handleSection(device.ModuleConfig, pkt.Kind(), pkt.Section, pkt.Values)
	case packet.MyNodeInfo:
		device.MyNodeInfo = &model.MyNodeInfo{MyNodeNum: pkt.MyNodeNum, RebootCnt: pkt.RebootCount}
		return MutationSummary{DeviceUpdated: true}, nil
	case packet.NodeInfo:
		return handleNodeInfo(device, pkt)
	case packet.Position:
		return handlePosition(device, pkt)
	case packet.NeighborInfo:
		return handleNeighborInfo(device, pkt)
	case packet.TextMessage:
		return d.handleTextMessage(device, pkt)
	case packet.Waypoint:
		return handleWaypoint(device, pkt)
	case packet.Rebooted:
		return MutationSummary{Rebooting: true}, nil
	case packet.ConfigComplete:
		return handleConfigComplete(device, pkt)
	case packet.SetOwner, packet.BeginEditSettings, packet.CommitEditSettings:
		// Outbound only; a device never reports them.
		return MutationSummary{}, nil
	case packet.Unknown:
		return MutationSummary{}, nil
	default:
		return MutationSummary{}, nil
	}
}

func kindOf(p packet.Packet) packet.Kind {
	if p == nil {
		return packet.KindUnknown
	}
	return p.Kind()
}

func (d *Dispatcher) handleChannel(device *model.MeshDevice, pkt packet.Channel) (MutationSummary, error) {
	if pkt.Index < 0 {
		return MutationSummary{}, malformed(pkt.Kind(), "negative channel index %d", pkt.Index)
	}
	ch := model.MeshChannel{
		Index:           pkt.Index,
		Role:            pkt.Role,
		Name:            pkt.Name,
		LastInteraction: d.clock.Now(),
	}
	if prev, ok := device.Channel(pkt.Index); ok {
		ch.Messages = prev.Messages
	}
	device.PutChannel(ch)
	return MutationSummary{DeviceUpdated: true}, nil
}

func handleSection(dst map[string]model.ConfigSection, kind packet.Kind, name string, values model.ConfigSection) (MutationSummary, error) {
	if name == "" {
		return MutationSummary{}, malformed(kind, "missing section name")
	}
	section := make(model.ConfigSection, len(values))
	for k, v := range values {
		section[k] = v
	}
	dst[name] = section
	return MutationSummary{DeviceUpdated: true}, nil
}

func handleNodeInfo(device *model.MeshDevice, pkt packet.NodeInfo) (MutationSummary, error) {
	if pkt.Num == 0 {
		return MutationSummary{}, malformed(pkt.Kind(), "node number 0")
	}
	if pkt.Position != nil && !inRange(*pkt.Position) {
		return MutationSummary{}, malformed(pkt.Kind(), "position out of range for node %d", pkt.Num)
	}

	node := nodeEntry(device, pkt.Num)
	if pkt.User != nil {
		u := *pkt.User
		node.User = &u
	}
	if pkt.SNR != nil {
		snr := *pkt.SNR
		node.SNR = &snr
	}
	if pkt.HopsAway != nil {
		hops := *pkt.HopsAway
		node.HopsAway = &hops
	}
	if pkt.LastHeard.After(node.LastHeard) {
		node.LastHeard = pkt.LastHeard
	}

	summary := MutationSummary{DeviceUpdated: true}
	if pkt.Position != nil {
		appendPosition(node, *pkt.Position)
		summary.RegenerateGraph = true
	}
	return summary, nil
}

func handlePosition(device *model.MeshDevice, pkt packet.Position) (MutationSummary, error) {
	if pkt.From == 0 {
		return MutationSummary{}, malformed(pkt.Kind(), "node number 0")
	}
	if !inRange(pkt.Position) {
		return MutationSummary{}, malformed(pkt.Kind(), "position out of range for node %d", pkt.From)
	}
	appendPosition(nodeEntry(device, pkt.From), pkt.Position)
	return MutationSummary{DeviceUpdated: true, RegenerateGraph: true}, nil
}

func handleNeighborInfo(device *model.MeshDevice, pkt packet.NeighborInfo) (MutationSummary, error) {
	if pkt.NodeNum == 0 {
		return MutationSummary{}, malformed(pkt.Kind(), "node number 0")
	}
	for _, nb := range pkt.Neighbors {
		if nb.NodeNum == 0 {
			return MutationSummary{}, malformed(pkt.Kind(), "neighbour of node %d has number 0", pkt.NodeNum)
		}
	}
	node := nodeEntry(device, pkt.NodeNum)
	node.Neighbors = append([]model.Neighbor(nil), pkt.Neighbors...)
	node.NeighborsReportedAt = pkt.RxTime
	return MutationSummary{DeviceUpdated: true, RegenerateGraph: true}, nil
}

func (d *Dispatcher) handleTextMessage(device *model.MeshDevice, pkt packet.TextMessage) (MutationSummary, error) {
	ch, ok := device.Channel(pkt.Channel)
	if !ok {
		return MutationSummary{}, malformed(pkt.Kind(), "unknown channel %d", pkt.Channel)
	}
	ch.Messages = append(ch.Messages, model.TextMessage{
		PacketID: pkt.PacketID,
		From:     pkt.From,
		To:       pkt.To,
		Text:     pkt.Text,
		RxTime:   pkt.RxTime,
	})
	ch.LastInteraction = d.clock.Now()

	title := fmt.Sprintf("Message from !%08x", pkt.From)
	if n, ok := device.Nodes[pkt.From]; ok && n.DisplayName() != "" {
		title = "Message from " + n.DisplayName()
	}
	return MutationSummary{
		DeviceUpdated:      true,
		NotificationConfig: &model.NotificationConfig{Title: title, Body: pkt.Text},
	}, nil
}

func handleWaypoint(device *model.MeshDevice, pkt packet.Waypoint) (MutationSummary, error) {
	if pkt.Waypoint.ID == 0 {
		return MutationSummary{}, malformed(pkt.Kind(), "waypoint id 0")
	}
	if pkt.Deleted {
		delete(device.Waypoints, pkt.Waypoint.ID)
	} else {
		device.Waypoints[pkt.Waypoint.ID] = pkt.Waypoint
	}
	return MutationSummary{DeviceUpdated: true}, nil
}

func handleConfigComplete(device *model.MeshDevice, pkt packet.ConfigComplete) (MutationSummary, error) {
	switch device.Status {
	case model.StatusConnecting, model.StatusConfiguring:
	default:
		// The attempt already resolved; its status event has been sent.
		return MutationSummary{DeviceUpdated: true}, nil
	}
	if pkt.ConfigID != device.ConfigID {
		return MutationSummary{}, malformed(pkt.Kind(), "config id %d does not match handshake %d", pkt.ConfigID, device.ConfigID)
	}
	device.Status = model.StatusConfigured
	return MutationSummary{DeviceUpdated: true, ConfigurationSuccess: true}, nil
}

func nodeEntry(device *model.MeshDevice, num uint32) *model.MeshNode {
	node, ok := device.Nodes[num]
	if !ok {
		node = &model.MeshNode{Num: num}
		device.Nodes[num] = node
	}
	return node
}

// appendPosition records p unless it repeats the latest sample.
func appendPosition(node *model.MeshNode, p model.PositionMetric) {
	if last, ok := node.LatestPosition(); ok && last.SamePlace(p) {
		return
	}
	node.PositionMetrics = append(node.PositionMetrics, p)
}

// inRange accepts 0/0, which devices send when they have no fix.
func inRange(p model.PositionMetric) bool {
	lat, lon := p.Latitude(), p.Longitude()
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
