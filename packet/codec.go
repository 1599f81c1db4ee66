package packet

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadEnvelope indicates a packet envelope that could not be decoded.
var ErrBadEnvelope = errors.New("bad packet envelope")

// envelope is the JSON framing used by decoded-packet feeds:
//
//	{"kind":"node_info","payload":{...}}
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one JSON envelope. Unrecognised kinds decode to Unknown
// without error.
func Decode(data []byte) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrBadEnvelope)
	}

	var p Packet
	var err error
	switch env.Kind {
	case KindChannel:
		p, err = decodeAs[Channel](env.Payload)
	case KindConfig:
		p, err = decodeAs[Config](env.Payload)
	case KindModuleConfig:
		p, err = decodeAs[ModuleConfig](env.Payload)
	case KindMyNodeInfo:
		p, err = decodeAs[MyNodeInfo](env.Payload)
	case KindNodeInfo:
		p, err = decodeAs[NodeInfo](env.Payload)
	case KindPosition:
		p, err = decodeAs[Position](env.Payload)
	case KindNeighborInfo:
		p, err = decodeAs[NeighborInfo](env.Payload)
	case KindTextMessage:
		p, err = decodeAs[TextMessage](env.Payload)
	case KindWaypoint:
		p, err = decodeAs[Waypoint](env.Payload)
	case KindRebooted:
		p = Rebooted{}
	case KindConfigComplete:
		p, err = decodeAs[ConfigComplete](env.Payload)
	case KindSetOwner:
		p, err = decodeAs[SetOwner](env.Payload)
	case KindBeginEdit:
		p = BeginEditSettings{}
	case KindCommitEdit:
		p = CommitEditSettings{}
	default:
		p = Unknown{Name: string(env.Kind)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrBadEnvelope, env.Kind, err)
	}
	return p, nil
}

// Encode renders a packet as a JSON envelope.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrBadEnvelope)
	}
	env := envelope{Kind: p.Kind()}
	switch v := p.(type) {
	case Unknown:
		env.Kind = Kind(v.Name)
	case Rebooted, BeginEditSettings, CommitEditSettings:
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		env.Payload = payload
	}
	return json.Marshal(env)
}

func decodeAs[T Packet](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("missing payload")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
