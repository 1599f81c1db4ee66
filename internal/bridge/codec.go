package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/session"
)

// toStruct encodes any JSON-serialisable value as a Struct. v must encode
// to a JSON object.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	return v.GetStringValue(), nil
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

func flagsFromStruct(s *structpb.Struct) analytics.Flags {
	return analytics.Flags{
		ArticulationPoints:  boolField(s, "ap"),
		MinCut:              boolField(s, "mincut"),
		DiffusionCentrality: boolField(s, "diffcen"),
	}
}

func flagsToStruct(f analytics.Flags) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ap":      structpb.NewBoolValue(f.ArticulationPoints),
		"mincut":  structpb.NewBoolValue(f.MinCut),
		"diffcen": structpb.NewBoolValue(f.DiffusionCentrality),
	}}
}

// analyticsWire is the Struct form of an analytics result. Struct keys must
// be strings, so node ids and steps travel as decimal strings.
type analyticsWire struct {
	APResult      []uint32                                  `json:"ap_result"`
	MincutResult  [][2]uint32                               `json:"mincut_result"`
	DiffcenResult map[string]map[string]map[string]float64 `json:"diffcen_result"`
	Errors        []string                                  `json:"errors,omitempty"`
}

func encodeAnalyticsResult(res session.AnalyticsResult, algErr error) (*structpb.Struct, error) {
	wire := analyticsWire{
		APResult:      res.APResult,
		MincutResult:  res.MincutResult,
		DiffcenResult: make(map[string]map[string]map[string]float64, len(res.DiffcenResult)),
	}
	if wire.APResult == nil {
		wire.APResult = []uint32{}
	}
	if wire.MincutResult == nil {
		wire.MincutResult = [][2]uint32{}
	}
	for node, steps := range res.DiffcenResult {
		ws := make(map[string]map[string]float64, len(steps))
		for step, targets := range steps {
			wt := make(map[string]float64, len(targets))
			for target, score := range targets {
				wt[strconv.FormatUint(uint64(target), 10)] = score
			}
			ws[strconv.FormatUint(uint64(step), 10)] = wt
		}
		wire.DiffcenResult[strconv.FormatUint(uint64(node), 10)] = ws
	}
	wire.Errors = algorithmErrors(algErr)
	return toStruct(wire)
}

// algorithmErrors flattens a joined error into one message per algorithm.
func algorithmErrors(err error) []string {
	if err == nil {
		return nil
	}
	var msgs []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
	} else {
		msgs = append(msgs, err.Error())
	}
	sort.Strings(msgs)
	return msgs
}

// DecodeAnalyticsResult parses a RunAlgorithms response. Node id and step
// keys must be decimal uint32 values; anything else is an error rather than
// a silent zero. Algorithm failures reported by the server come back as the
// returned error next to the partial result.
func DecodeAnalyticsResult(s *structpb.Struct) (session.AnalyticsResult, error) {
	var wire analyticsWire
	if err := fromStruct(s, &wire); err != nil {
		return session.AnalyticsResult{}, fmt.Errorf("decode analytics result: %w", err)
	}

	out := session.AnalyticsResult{
		APResult:     wire.APResult,
		MincutResult: wire.MincutResult,
	}
	if len(wire.DiffcenResult) > 0 {
		out.DiffcenResult = make(map[uint32]map[uint32]map[uint32]float64, len(wire.DiffcenResult))
	}
	for nodeKey, steps := range wire.DiffcenResult {
		node, err := parseKey("node id", nodeKey)
		if err != nil {
			return session.AnalyticsResult{}, err
		}
		ds := make(map[uint32]map[uint32]float64, len(steps))
		for stepKey, targets := range steps {
			step, err := parseKey("step", stepKey)
			if err != nil {
				return session.AnalyticsResult{}, err
			}
			dt := make(map[uint32]float64, len(targets))
			for targetKey, score := range targets {
				target, err := parseKey("node id", targetKey)
				if err != nil {
					return session.AnalyticsResult{}, err
				}
				dt[target] = score
			}
			ds[step] = dt
		}
		out.DiffcenResult[node] = ds
	}

	var errs []error
	for _, msg := range wire.Errors {
		errs = append(errs, errors.New(msg))
	}
	return out, errors.Join(errs...)
}

func parseKey(what, key string) (uint32, error) {
	v, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("decode analytics result: invalid %s key %q", what, key)
	}
	return uint32(v), nil
}
