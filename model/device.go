package model

import (
	"sort"
	"time"
)

// ConfigSection is one named block of radio or module configuration
// (for example "lora", "device", "mqtt"). Sections are replaced wholesale by
// incoming packets and never edited in place.
type ConfigSection map[string]any

// TextMessage is a buffered text message received on a channel.
type TextMessage struct {
	PacketID uint32    `json:"packet_id"`
	From     uint32    `json:"from"`
	To       uint32    `json:"to"`
	Text     string    `json:"text"`
	RxTime   time.Time `json:"rx_time"`
}

// MeshChannel is one channel slot on the device.
type MeshChannel struct {
	Index           int32         `json:"index"`
	Role            string        `json:"role"`
	Name            string        `json:"name"`
	LastInteraction time.Time     `json:"last_interaction"`
	Messages        []TextMessage `json:"messages"`
}

// MyNodeInfo is the connected device's own identity.
type MyNodeInfo struct {
	MyNodeNum uint32 `json:"my_node_num"`
	RebootCnt uint32 `json:"reboot_count"`
}

// Waypoint is a named point shared over the mesh.
type Waypoint struct {
	ID          uint32    `json:"id"`
	LatitudeI   int32     `json:"latitude_i"`
	LongitudeI  int32     `json:"longitude_i"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Expire      time.Time `json:"expire,omitempty"`
}

// MeshDevice is the full reconstructed state of one connected device. It is
// owned by the device registry and only mutated while holding the registry
// lock; everything handed to other goroutines is a Clone.
type MeshDevice struct {
	Key       DeviceKey        `json:"device_key"`
	Status    ConnectionStatus `json:"status"`
	ConfigID  uint32           `json:"config_id"`
	AttemptID string           `json:"attempt_id"`

	Config       map[string]ConfigSection `json:"config"`
	ModuleConfig map[string]ConfigSection `json:"module_config"`
	Channels     []MeshChannel            `json:"channels"`
	Nodes        map[uint32]*MeshNode     `json:"nodes"`
	MyNodeInfo   *MyNodeInfo              `json:"my_node_info,omitempty"`
	Waypoints    map[uint32]Waypoint      `json:"waypoints"`
}

// NewMeshDevice returns an empty device in the Connecting state.
func NewMeshDevice(key DeviceKey, configID uint32, attemptID string) *MeshDevice {
	return &MeshDevice{
		Key:          key,
		Status:       StatusConnecting,
		ConfigID:     configID,
		AttemptID:    attemptID,
		Config:       make(map[string]ConfigSection),
		ModuleConfig: make(map[string]ConfigSection),
		Nodes:        make(map[uint32]*MeshNode),
		Waypoints:    make(map[uint32]Waypoint),
	}
}

// EnsureMaps allocates any nil map field, so a zero-value device can be
// written to.
func (d *MeshDevice) EnsureMaps() {
	if d.Config == nil {
		d.Config = make(map[string]ConfigSection)
	}
	if d.ModuleConfig == nil {
		d.ModuleConfig = make(map[string]ConfigSection)
	}
	if d.Nodes == nil {
		d.Nodes = make(map[uint32]*MeshNode)
	}
	if d.Waypoints == nil {
		d.Waypoints = make(map[uint32]Waypoint)
	}
}

// Channel returns the channel with the given index.
func (d *MeshDevice) Channel(index int32) (*MeshChannel, bool) {
	i := sort.Search(len(d.Channels), func(i int) bool { return d.Channels[i].Index >= index })
	if i < len(d.Channels) && d.Channels[i].Index == index {
		return &d.Channels[i], true
	}
	return nil, false
}

// PutChannel replaces the channel with the same index or inserts it so that
// Channels stays ordered by index.
func (d *MeshDevice) PutChannel(ch MeshChannel) {
	i := sort.Search(len(d.Channels), func(i int) bool { return d.Channels[i].Index >= ch.Index })
	if i < len(d.Channels) && d.Channels[i].Index == ch.Index {
		d.Channels[i] = ch
		return
	}
	d.Channels = append(d.Channels, MeshChannel{})
	copy(d.Channels[i+1:], d.Channels[i:])
	d.Channels[i] = ch
}

// OwnNode returns the node-table entry describing the device itself.
func (d *MeshDevice) OwnNode() (*MeshNode, bool) {
	if d.MyNodeInfo == nil {
		return nil, false
	}
	n, ok := d.Nodes[d.MyNodeInfo.MyNodeNum]
	return n, ok
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d *MeshDevice) Clone() *MeshDevice {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Config = cloneSections(d.Config)
	cp.ModuleConfig = cloneSections(d.ModuleConfig)

	if d.Channels != nil {
		cp.Channels = make([]MeshChannel, len(d.Channels))
		for i, ch := range d.Channels {
			ch.Messages = append([]TextMessage(nil), ch.Messages...)
			cp.Channels[i] = ch
		}
	}

	cp.Nodes = make(map[uint32]*MeshNode, len(d.Nodes))
	for num, n := range d.Nodes {
		cp.Nodes[num] = n.Clone()
	}

	if d.MyNodeInfo != nil {
		info := *d.MyNodeInfo
		cp.MyNodeInfo = &info
	}

	cp.Waypoints = make(map[uint32]Waypoint, len(d.Waypoints))
	for id, wp := range d.Waypoints {
		cp.Waypoints[id] = wp
	}
	return &cp
}

func cloneSections(in map[string]ConfigSection) map[string]ConfigSection {
	out := make(map[string]ConfigSection, len(in))
	for name, section := range in {
		s := make(ConfigSection, len(section))
		for k, v := range section {
			s[k] = v
		}
		out[name] = s
	}
	return out
}
