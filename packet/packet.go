// Package packet defines the decoded packets exchanged with a connected
// device. SetOwner and the edit-settings markers only travel towards the
// device; the remaining kinds arrive from it, and Config, ModuleConfig,
// Channel, TextMessage and Waypoint also travel back as writes.
//
// Packet is a closed set: every variant lives in this package and the
// unexported marker method keeps other packages from adding more. Kinds the
// decoder does not recognise arrive as Unknown so that newer firmware never
// breaks the dispatch loop.
package packet

import (
	"time"

	"github.com/signalsfoundry/meshgraph/model"
)

// Kind names a packet variant.
type Kind string

const (
	KindChannel        Kind = "channel"
	KindConfig         Kind = "config"
	KindModuleConfig   Kind = "module_config"
	KindMyNodeInfo     Kind = "my_node_info"
	KindNodeInfo       Kind = "node_info"
	KindPosition       Kind = "position"
	KindNeighborInfo   Kind = "neighbor_info"
	KindTextMessage    Kind = "text_message"
	KindWaypoint       Kind = "waypoint"
	KindRebooted       Kind = "rebooted"
	KindConfigComplete Kind = "config_complete"
	KindSetOwner       Kind = "set_owner"
	KindBeginEdit      Kind = "begin_edit_settings"
	KindCommitEdit     Kind = "commit_edit_settings"
	KindUnknown        Kind = "unknown"
)

// Packet is one decoded packet from a device.
type Packet interface {
	Kind() Kind
	isPacket()
}

// Channel carries the settings of one channel slot.
type Channel struct {
	Index int32  `json:"index"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

// Config carries one section of the radio configuration.
type Config struct {
	Section string              `json:"section"`
	Values  model.ConfigSection `json:"values"`
}

// ModuleConfig carries one section of the module configuration.
type ModuleConfig struct {
	Section string              `json:"section"`
	Values  model.ConfigSection `json:"values"`
}

// MyNodeInfo carries the device's own identity.
type MyNodeInfo struct {
	MyNodeNum   uint32 `json:"my_node_num"`
	RebootCount uint32 `json:"reboot_count"`
}

// NodeInfo carries what the device knows about one mesh node.
type NodeInfo struct {
	Num       uint32                `json:"num"`
	User      *model.User           `json:"user,omitempty"`
	Position  *model.PositionMetric `json:"position,omitempty"`
	SNR       *float64              `json:"snr,omitempty"`
	LastHeard time.Time             `json:"last_heard"`
	HopsAway  *uint32               `json:"hops_away,omitempty"`
}

// Position is a position report received from a node.
type Position struct {
	From     uint32               `json:"from"`
	Position model.PositionMetric `json:"position"`
}

// NeighborInfo is a node's report of the neighbours it hears directly.
type NeighborInfo struct {
	NodeNum   uint32           `json:"node_id"`
	Neighbors []model.Neighbor `json:"neighbors"`
	RxTime    time.Time        `json:"rx_time"`
}

// TextMessage is a text message received on a channel.
type TextMessage struct {
	Channel  int32     `json:"channel"`
	PacketID uint32    `json:"id"`
	From     uint32    `json:"from"`
	To       uint32    `json:"to"`
	Text     string    `json:"text"`
	RxTime   time.Time `json:"rx_time"`
}

// Waypoint creates, updates or (when Deleted) removes a shared waypoint.
// Channel is the channel slot it is broadcast on.
type Waypoint struct {
	Waypoint model.Waypoint `json:"waypoint"`
	Deleted  bool           `json:"deleted,omitempty"`
	Channel  int32          `json:"channel,omitempty"`
}

// Rebooted reports that the device is restarting.
type Rebooted struct{}

// ConfigComplete ends the configuration handshake. ConfigID echoes the
// nonce sent with the configuration request.
type ConfigComplete struct {
	ConfigID uint32 `json:"config_complete_id"`
}

// SetOwner replaces the device owner's user record.
type SetOwner struct {
	User model.User `json:"user"`
}

// BeginEditSettings opens a settings transaction: the device holds back
// config writes until CommitEditSettings.
type BeginEditSettings struct{}

// CommitEditSettings applies the writes held since BeginEditSettings.
type CommitEditSettings struct{}

// Unknown is any packet kind this package does not model.
type Unknown struct {
	Name string
}

func (Channel) Kind() Kind            { return KindChannel }
func (Config) Kind() Kind             { return KindConfig }
func (ModuleConfig) Kind() Kind       { return KindModuleConfig }
func (MyNodeInfo) Kind() Kind         { return KindMyNodeInfo }
func (NodeInfo) Kind() Kind           { return KindNodeInfo }
func (Position) Kind() Kind           { return KindPosition }
func (NeighborInfo) Kind() Kind       { return KindNeighborInfo }
func (TextMessage) Kind() Kind        { return KindTextMessage }
func (Waypoint) Kind() Kind           { return KindWaypoint }
func (Rebooted) Kind() Kind           { return KindRebooted }
func (ConfigComplete) Kind() Kind     { return KindConfigComplete }
func (SetOwner) Kind() Kind           { return KindSetOwner }
func (BeginEditSettings) Kind() Kind  { return KindBeginEdit }
func (CommitEditSettings) Kind() Kind { return KindCommitEdit }
func (Unknown) Kind() Kind            { return KindUnknown }

func (Channel) isPacket()            {}
func (Config) isPacket()             {}
func (ModuleConfig) isPacket()       {}
func (MyNodeInfo) isPacket()         {}
func (NodeInfo) isPacket()           {}
func (Position) isPacket()           {}
func (NeighborInfo) isPacket()       {}
func (TextMessage) isPacket()        {}
func (Waypoint) isPacket()           {}
func (Rebooted) isPacket()           {}
func (ConfigComplete) isPacket()     {}
func (SetOwner) isPacket()           {}
func (BeginEditSettings) isPacket()  {}
func (CommitEditSettings) isPacket() {}
func (Unknown) isPacket()            {}
