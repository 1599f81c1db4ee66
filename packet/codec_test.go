package packet

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/meshgraph/model"
)

func TestDecodeNodeInfo(t *testing.T) {
	data := []byte(`{"kind":"node_info","payload":{"num":42,"snr":6.5,"user":{"id":"!0000002a","long_name":"Hilltop"},
		"position":{"latitude_i":473977000,"longitude_i":85456000,"altitude":410}}}`)

	p, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	info, ok := p.(NodeInfo)
	if !ok {
		t.Fatalf("Decode returned %T, want NodeInfo", p)
	}
	if info.Num != 42 || info.SNR == nil || *info.SNR != 6.5 {
		t.Fatalf("NodeInfo = %+v, want num 42 snr 6.5", info)
	}
	if info.Position == nil || info.Position.Altitude != 410 {
		t.Fatalf("NodeInfo position = %+v, want altitude 410", info.Position)
	}
	if info.User.LongName != "Hilltop" {
		t.Fatalf("long name = %q, want Hilltop", info.User.LongName)
	}
}

func TestDecodeUnknownKindIsNotAnError(t *testing.T) {
	p, err := Decode([]byte(`{"kind":"store_forward","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	u, ok := p.(Unknown)
	if !ok || u.Name != "store_forward" {
		t.Fatalf("Decode = %#v, want Unknown{store_forward}", p)
	}
}

func TestDecodeRejectsBrokenEnvelopes(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"kind":`,
		"missing kind":    `{"payload":{}}`,
		"missing payload": `{"kind":"channel"}`,
		"wrong type":      `{"kind":"channel","payload":{"index":"zero"}}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrBadEnvelope) {
			t.Errorf("%s: Decode error = %v, want ErrBadEnvelope", name, err)
		}
	}
}

func TestEncodeDecodeKeepsVariant(t *testing.T) {
	rx := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := []Packet{
		ConfigComplete{ConfigID: 7},
		Rebooted{},
		BeginEditSettings{},
		CommitEditSettings{},
		SetOwner{User: model.User{ID: "!00000001", LongName: "Base"}},
		Unknown{Name: "telemetry"},
		NeighborInfo{NodeNum: 3, Neighbors: []model.Neighbor{{NodeNum: 4, SNR: -2.5}}, RxTime: rx},
	}
	for _, p := range in {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%T) error: %v", p, err)
		}
		out, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", data, err)
		}
		if out.Kind() != p.Kind() {
			t.Fatalf("round trip kind = %s, want %s", out.Kind(), p.Kind())
		}
	}
}

func TestEncodeOutboundWrites(t *testing.T) {
	data, err := Encode(CommitEditSettings{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"kind":"commit_edit_settings"}` {
		t.Fatalf("Encode(CommitEditSettings) = %s", data)
	}

	data, err = Encode(Waypoint{Waypoint: model.Waypoint{ID: 9, Name: "camp"}, Channel: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s): %v", data, err)
	}
	wp, ok := p.(Waypoint)
	if !ok || wp.Channel != 2 || wp.Waypoint.ID != 9 || wp.Waypoint.Name != "camp" {
		t.Fatalf("Decode = %#v, want waypoint 9 on channel 2", p)
	}

	p, err = Decode([]byte(`{"kind":"set_owner","payload":{"user":{"long_name":"Ridge","short_name":"RDG"}}}`))
	if err != nil {
		t.Fatalf("Decode set_owner: %v", err)
	}
	if owner, ok := p.(SetOwner); !ok || owner.User.LongName != "Ridge" || owner.User.ShortName != "RDG" {
		t.Fatalf("Decode = %#v, want SetOwner Ridge", p)
	}
}
