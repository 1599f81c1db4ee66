package bridge

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/session"
)

func TestAnalyticsResultTravelsWithStringKeys(t *testing.T) {
	res := session.AnalyticsResult{
		APResult:     []uint32{2, 3000000000},
		MincutResult: [][2]uint32{{2, 3}},
		DiffcenResult: map[uint32]map[uint32]map[uint32]float64{
			3000000000: {1: {2: 0.5}},
		},
	}
	s, err := encodeAnalyticsResult(res, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	diff := s.GetFields()["diffcen_result"].GetStructValue()
	if _, ok := diff.GetFields()["3000000000"]; !ok {
		t.Fatalf("diffcen_result keys = %v, want decimal node id", diff.GetFields())
	}

	got, err := DecodeAnalyticsResult(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.APResult) != 2 || got.APResult[1] != 3000000000 {
		t.Fatalf("APResult = %v", got.APResult)
	}
	if len(got.MincutResult) != 1 || got.MincutResult[0] != [2]uint32{2, 3} {
		t.Fatalf("MincutResult = %v", got.MincutResult)
	}
	if score := got.DiffcenResult[3000000000][1][2]; score != 0.5 {
		t.Fatalf("DiffcenResult score = %v, want 0.5", score)
	}
}

func TestDecodeAnalyticsResultRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		diff map[string]any
	}{
		{"node id", map[string]any{"abc": map[string]any{"1": map[string]any{"2": 0.5}}}},
		{"step", map[string]any{"1": map[string]any{"-1": map[string]any{"2": 0.5}}}},
		{"target", map[string]any{"1": map[string]any{"1": map[string]any{"4294967296": 0.5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(map[string]any{"diffcen_result": tt.diff})
			if err != nil {
				t.Fatalf("NewStruct: %v", err)
			}
			if _, err := DecodeAnalyticsResult(s); err == nil || !strings.Contains(err.Error(), "invalid") {
				t.Fatalf("DecodeAnalyticsResult error = %v, want invalid key", err)
			}
		})
	}
}

func TestAnalyticsErrorsTravelWithPartialResult(t *testing.T) {
	algErr := errors.Join(
		&analytics.AlgorithmError{Algorithm: analytics.AlgorithmMinCut, Err: errors.New("panic: index out of range")},
	)
	s, err := encodeAnalyticsResult(session.AnalyticsResult{APResult: []uint32{7}}, algErr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeAnalyticsResult(s)
	if err == nil || !strings.Contains(err.Error(), "min_cut failed") {
		t.Fatalf("decode error = %v, want min_cut failure", err)
	}
	if len(got.APResult) != 1 || got.APResult[0] != 7 {
		t.Fatalf("partial APResult = %v, want [7]", got.APResult)
	}
}

func TestFlagsFromStruct(t *testing.T) {
	f := flagsFromStruct(flagsToStruct(analytics.Flags{MinCut: true}))
	if f.ArticulationPoints || !f.MinCut || f.DiffusionCentrality {
		t.Fatalf("flags = %+v", f)
	}
	if f := flagsFromStruct(nil); f != (analytics.Flags{}) {
		t.Fatalf("flags from nil = %+v, want none", f)
	}
}
