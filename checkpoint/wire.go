package checkpoint

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers.
//
//	Checkpoint    { repeated LayerState layers = 1; TrainingState training = 2; Metadata metadata = 3; }
//	LayerState    { int64 neurons = 1; repeated Core cores = 2; }
//	Core          { int64 width = 1; repeated double data = 2 [packed]; }
//	TrainingState { int64 iterations = 1; double cost = 2; double learning_rate = 3; }
//	Metadata      { string version = 1; string framework = 2; int64 created_unix_nano = 3; string description = 4; }
const (
	fieldLayers   protowire.Number = 1
	fieldTraining protowire.Number = 2
	fieldMetadata protowire.Number = 3

	fieldNeurons protowire.Number = 1
	fieldCores   protowire.Number = 2

	fieldWidth protowire.Number = 1
	fieldData  protowire.Number = 2

	fieldIterations   protowire.Number = 1
	fieldCost         protowire.Number = 2
	fieldLearningRate protowire.Number = 3

	fieldVersion     protowire.Number = 1
	fieldFramework   protowire.Number = 2
	fieldCreatedAt   protowire.Number = 3
	fieldDescription protowire.Number = 4
)

// MarshalBinary encodes cp in protobuf wire format.
func (cp *Checkpoint) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, l := range cp.Layers {
		b = appendMessage(b, fieldLayers, l.append(nil))
	}
	b = appendMessage(b, fieldTraining, cp.Training.append(nil))
	b = appendMessage(b, fieldMetadata, cp.Metadata.append(nil))
	return b, nil
}

// UnmarshalBinary decodes a checkpoint written by MarshalBinary. Unknown
// fields are skipped.
func (cp *Checkpoint) UnmarshalBinary(b []byte) error {
	*cp = Checkpoint{}
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldLayers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			var l LayerState
			if n >= 0 {
				if err := l.unmarshal(v); err != nil {
					return 0, fmt.Errorf("layer %d: %w", len(cp.Layers), err)
				}
				cp.Layers = append(cp.Layers, l)
			}
			return n, nil
		case num == fieldTraining && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				if err := cp.Training.unmarshal(v); err != nil {
					return 0, fmt.Errorf("training: %w", err)
				}
			}
			return n, nil
		case num == fieldMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				if err := cp.Metadata.unmarshal(v); err != nil {
					return 0, fmt.Errorf("metadata: %w", err)
				}
			}
			return n, nil
		}
		return skip(num, typ, b)
	})
}

func (l LayerState) append(b []byte) []byte {
	b = appendInt(b, fieldNeurons, l.Neurons)
	for _, c := range l.Cores {
		b = appendMessage(b, fieldCores, c.append(nil))
	}
	return b
}

func (l *LayerState) unmarshal(b []byte) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldNeurons && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			l.Neurons = int(int64(v))
			return n, nil
		case num == fieldCores && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			var c Core
			if n >= 0 {
				if err := c.unmarshal(v); err != nil {
					return 0, fmt.Errorf("core %d: %w", len(l.Cores), err)
				}
				l.Cores = append(l.Cores, c)
			}
			return n, nil
		}
		return skip(num, typ, b)
	})
}

func (c Core) append(b []byte) []byte {
	b = appendInt(b, fieldWidth, c.Width)
	packed := make([]byte, 0, 8*len(c.Data))
	for _, v := range c.Data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, fieldData, packed)
}

func (c *Core) unmarshal(b []byte) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldWidth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Width = int(int64(v))
			return n, nil
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(v) > 0 {
				x, m := protowire.ConsumeFixed64(v)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				c.Data = append(c.Data, math.Float64frombits(x))
				v = v[m:]
			}
			return n, nil
		case num == fieldData && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n >= 0 {
				c.Data = append(c.Data, math.Float64frombits(x))
			}
			return n, nil
		}
		return skip(num, typ, b)
	})
}

func (t TrainingState) append(b []byte) []byte {
	b = appendInt(b, fieldIterations, t.Iterations)
	b = appendDouble(b, fieldCost, t.Cost)
	return appendDouble(b, fieldLearningRate, t.LearningRate)
}

func (t *TrainingState) unmarshal(b []byte) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldIterations && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.Iterations = int(int64(v))
			return n, nil
		case num == fieldCost && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			t.Cost = math.Float64frombits(v)
			return n, nil
		case num == fieldLearningRate && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			t.LearningRate = math.Float64frombits(v)
			return n, nil
		}
		return skip(num, typ, b)
	})
}

func (m Metadata) append(b []byte) []byte {
	b = appendString(b, fieldVersion, m.Version)
	b = appendString(b, fieldFramework, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	}
	return appendString(b, fieldDescription, m.Description)
}

func (m *Metadata) unmarshal(b []byte) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType {
			var dst *string
			switch num {
			case fieldVersion:
				dst = &m.Version
			case fieldFramework:
				dst = &m.Framework
			case fieldDescription:
				dst = &m.Description
			}
			if dst != nil {
				v, n := protowire.ConsumeString(b)
				*dst = v
				return n, nil
			}
		}
		if num == fieldCreatedAt && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.CreatedAt = time.Unix(0, int64(v)).UTC()
			return n, nil
		}
		return skip(num, typ, b)
	})
}

// fields walks the top-level fields of one message. fn returns how many
// bytes of the value it consumed, or a negative protowire error code.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
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
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// skip consumes a field this version does not know.
func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, b), nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
