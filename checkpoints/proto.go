package checkpoints

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// protoMagic is written as field 15 of every State message; artifacts
// without it are rejected.
const protoMagic = "gantrain.checkpoint.v1"

// Field numbers of the wire messages.
//
//	State          { 1 epoch, 2 repeated Weight, 3 repeated Optimizer, 4 Metadata, 15 magic }
//	Weight         { 1 name, 2 packed shape, 3 packed fixed32 data }
//	Optimizer      { 1 name, 2 type, 3 step, 4 google.protobuf.Struct parameters, 5 repeated OptTensor }
//	OptTensor      { 1 name, 2 packed shape, 3 packed fixed32 data, 4 state type }
//	Metadata       { 1 version, 2 framework, 3 google.protobuf.Timestamp created, 4 run id, 5 description, 6 repeated tags }
const (
	fieldStateEpoch     protowire.Number = 1
	fieldStateWeight    protowire.Number = 2
	fieldStateOptimizer protowire.Number = 3
	fieldStateMetadata  protowire.Number = 4
	fieldStateMagic     protowire.Number = 15

	fieldTensorName  protowire.Number = 1
	fieldTensorShape protowire.Number = 2
	fieldTensorData  protowire.Number = 3
	fieldTensorKind  protowire.Number = 4

	fieldOptName   protowire.Number = 1
	fieldOptType   protowire.Number = 2
	fieldOptStep   protowire.Number = 3
	fieldOptParams protowire.Number = 4
	fieldOptState  protowire.Number = 5

	fieldMetaVersion     protowire.Number = 1
	fieldMetaFramework   protowire.Number = 2
	fieldMetaCreatedAt   protowire.Number = 3
	fieldMetaRunID       protowire.Number = 4
	fieldMetaDescription protowire.Number = 5
	fieldMetaTags        protowire.Number = 6
)

func encodeProto(s *State) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldStateMagic, protowire.BytesType)
	b = protowire.AppendString(b, protoMagic)
	b = protowire.AppendTag(b, fieldStateEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Epoch))

	for _, w := range s.Weights {
		b = protowire.AppendTag(b, fieldStateWeight, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, w.Name, w.Shape, w.Data, ""))
	}

	for _, o := range s.Optimizers {
		msg, err := appendOptimizer(nil, o)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldStateOptimizer, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	meta, err := appendMetadata(nil, s.Metadata)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldStateMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	return b, nil
}

func appendTensor(b []byte, name string, shape []int, data []float32, kind string) []byte {
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	values := make([]byte, 0, 4*len(data))
	for _, v := range data {
		values = protowire.AppendFixed32(values, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, values)

	if kind != "" {
		b = protowire.AppendTag(b, fieldTensorKind, protowire.BytesType)
		b = protowire.AppendString(b, kind)
	}
	return b
}

func appendOptimizer(b []byte, o OptimizerState) ([]byte, error) {
	b = protowire.AppendTag(b, fieldOptName, protowire.BytesType)
	b = protowire.AppendString(b, o.Name)
	b = protowire.AppendTag(b, fieldOptType, protowire.BytesType)
	b = protowire.AppendString(b, o.Type)
	b = protowire.AppendTag(b, fieldOptStep, protowire.VarintType)
	b = protowire.AppendVarint(b, o.Step)

	if len(o.Parameters) > 0 {
		params, err := structpb.NewStruct(o.Parameters)
		if err != nil {
			return nil, fmt.Errorf("optimizer %s parameters: %w", o.Name, err)
		}
		raw, err := proto.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("optimizer %s parameters: %w", o.Name, err)
		}
		b = protowire.AppendTag(b, fieldOptParams, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}

	for _, st := range o.StateData {
		b = protowire.AppendTag(b, fieldOptState, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, st.Name, st.Shape, st.Data, st.StateType))
	}
	return b, nil
}

func appendMetadata(b []byte, m Metadata) ([]byte, error) {
	b = protowire.AppendTag(b, fieldMetaVersion, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	b = protowire.AppendTag(b, fieldMetaFramework, protowire.BytesType)
	b = protowire.AppendString(b, m.Framework)

	created, err := proto.Marshal(timestamppb.New(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("metadata timestamp: %w", err)
	}
	b = protowire.AppendTag(b, fieldMetaCreatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, created)

	if m.RunID != "" {
		b = protowire.AppendTag(b, fieldMetaRunID, protowire.BytesType)
		b = protowire.AppendString(b, m.RunID)
	}
	if m.Description != "" {
		b = protowire.AppendTag(b, fieldMetaDescription, protowire.BytesType)
		b = protowire.AppendString(b, m.Description)
	}
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, fieldMetaTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b, nil
}

// fieldFunc handles one decoded field. It returns the number of bytes
// consumed from b, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates the fields of a message, skipping unknown ones.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

var errWireType = errors.New("unexpected wire type")

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func decodeProto(data []byte) (*State, error) {
	s := &State{}
	var magic string

	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldStateMagic:
			return consumeString(typ, b, &magic)
		case fieldStateEpoch:
			var epoch uint64
			n, err := consumeVarint(typ, b, &epoch)
			s.Epoch = int(epoch)
			return n, err
		case fieldStateWeight:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var w WeightTensor
			if _, err := decodeTensor(msg, &w.Name, &w.Shape, &w.Data, nil); err != nil {
				return 0, fmt.Errorf("weight: %w", err)
			}
			s.Weights = append(s.Weights, w)
			return n, nil
		case fieldStateOptimizer:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			o, err := decodeOptimizer(msg)
			if err != nil {
				return 0, fmt.Errorf("optimizer: %w", err)
			}
			s.Optimizers = append(s.Optimizers, o)
			return n, nil
		case fieldStateMetadata:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			if err := decodeMetadata(msg, &s.Metadata); err != nil {
				return 0, fmt.Errorf("metadata: %w", err)
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if magic != protoMagic {
		return nil, fmt.Errorf("not a checkpoint (magic %q)", magic)
	}
	return s, nil
}

func decodeTensor(b []byte, name *string, shape *[]int, data *[]float32, kind *string) (int, error) {
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldTensorName:
			return consumeString(typ, b, name)
		case fieldTensorKind:
			if kind == nil {
				return 0, nil
			}
			return consumeString(typ, b, kind)
		case fieldTensorShape:
			packed, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				*shape = append(*shape, int(v))
				packed = packed[m:]
			}
			return n, nil
		case fieldTensorData:
			packed, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			if len(packed)%4 != 0 {
				return 0, fmt.Errorf("tensor data length %d is not a multiple of 4", len(packed))
			}
			values := make([]float32, 0, len(packed)/4)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				values = append(values, math.Float32frombits(v))
				packed = packed[m:]
			}
			*data = values
			return n, nil
		}
		return 0, nil
	})
	return len(b), err
}

func decodeOptimizer(b []byte) (OptimizerState, error) {
	var o OptimizerState
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOptName:
			return consumeString(typ, b, &o.Name)
		case fieldOptType:
			return consumeString(typ, b, &o.Type)
		case fieldOptStep:
			return consumeVarint(typ, b, &o.Step)
		case fieldOptParams:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			params := &structpb.Struct{}
			if err := proto.Unmarshal(msg, params); err != nil {
				return 0, err
			}
			o.Parameters = params.AsMap()
			return n, nil
		case fieldOptState:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var st OptimizerTensor
			if _, err := decodeTensor(msg, &st.Name, &st.Shape, &st.Data, &st.StateType); err != nil {
				return 0, err
			}
			o.StateData = append(o.StateData, st)
			return n, nil
		}
		return 0, nil
	})
	return o, err
}

func decodeMetadata(b []byte, m *Metadata) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldMetaVersion:
			return consumeString(typ, b, &m.Version)
		case fieldMetaFramework:
			return consumeString(typ, b, &m.Framework)
		case fieldMetaRunID:
			return consumeString(typ, b, &m.RunID)
		case fieldMetaDescription:
			return consumeString(typ, b, &m.Description)
		case fieldMetaTags:
			var tag string
			n, err := consumeString(typ, b, &tag)
			m.Tags = append(m.Tags, tag)
			return n, err
		case fieldMetaCreatedAt:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			ts := &timestamppb.Timestamp{}
			if err := proto.Unmarshal(msg, ts); err != nil {
				return 0, err
			}
			m.CreatedAt = ts.AsTime()
			return n, nil
		}
		return 0, nil
	})
}
