// Package checkpoint saves and restores the weight maps of a Net.
//
// A checkpoint records, for every layer in order, its width and each weight
// matrix it holds keyed by predecessor width. Restoring installs the
// matrices directly, so a layer does not need an initializer for any width
// present in the checkpoint.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openfluke/neurocf/nn"
	"github.com/openfluke/neurocf/tensor"
)

// Version is written into every checkpoint's metadata.
const Version = "1.0.0"

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Checkpoint is the saved state of a Net.
type Checkpoint struct {
	Layers   []LayerState  `json:"layers"`
	Training TrainingState `json:"training"`
	Metadata Metadata      `json:"metadata"`
}

// LayerState holds one layer's weight matrices in ascending width order.
type LayerState struct {
	Neurons int    `json:"neurons"`
	Cores   []Core `json:"cores"`
}

// Core is one neurons x Width weight matrix, row-major.
type Core struct {
	Width int       `json:"width"`
	Data  []float64 `json:"data"`
}

// TrainingState records the fit that produced the weights.
type TrainingState struct {
	Iterations   int     `json:"iterations"`
	Cost         float64 `json:"cost"`
	LearningRate float64 `json:"learning_rate"`
}

type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Capture copies the host values of every weight matrix in n. On a device,
// receive the net first.
func Capture(n *nn.Net) (*Checkpoint, error) {
	cp := &Checkpoint{
		Layers: make([]LayerState, n.Len()),
		Metadata: Metadata{
			Version:   Version,
			Framework: "neurocf",
			CreatedAt: time.Now().UTC(),
		},
	}
	for i := range cp.Layers {
		l, err := n.Layer(i)
		if err != nil {
			return nil, err
		}
		st := LayerState{Neurons: l.Neurons()}
		for _, p := range l.Widths() {
			w, err := l.Core(p)
			if err != nil {
				return nil, err
			}
			st.Cores = append(st.Cores, Core{Width: p, Data: append([]float64(nil), w.Data()...)})
		}
		cp.Layers[i] = st
	}
	return cp, nil
}

// Restore installs the checkpoint's matrices into n's layers. The layer
// count and every layer width must match; nothing is changed otherwise.
// Replaced matrices are released on c. The new ones hold host values only,
// so on a device stage the net again before computing with it.
func (cp *Checkpoint) Restore(c tensor.Computer, n *nn.Net) error {
	if len(cp.Layers) != n.Len() {
		return fmt.Errorf("%w: checkpoint has %d layers, net has %d", nn.ErrConfig, len(cp.Layers), n.Len())
	}
	layers := make([]*nn.Layer, n.Len())
	for i, st := range cp.Layers {
		l, err := n.Layer(i)
		if err != nil {
			return err
		}
		if l.Neurons() != st.Neurons {
			return fmt.Errorf("%w: layer %d has %d neurons, checkpoint %d", nn.ErrConfig, i, l.Neurons(), st.Neurons)
		}
		for _, core := range st.Cores {
			if core.Width <= 0 || len(core.Data) != st.Neurons*core.Width {
				return fmt.Errorf("%w: layer %d core %d holds %d values", nn.ErrConfig, i, core.Width, len(core.Data))
			}
		}
		layers[i] = l
	}
	var errs []error
	for i, st := range cp.Layers {
		for _, core := range st.Cores {
			if old, err := layers[i].Core(core.Width); err == nil {
				errs = append(errs, c.Release(old))
			}
			w := tensor.NewFromData(st.Neurons, core.Width, append([]float64(nil), core.Data...))
			if err := layers[i].SetCore(core.Width, w); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

// Save writes cp to path in the given format.
func Save(cp *Checkpoint, path string, f Format) error {
	var data []byte
	var err error
	switch f {
	case FormatJSON:
		data, err = json.MarshalIndent(cp, "", "  ")
	case FormatProto:
		data, err = cp.MarshalBinary()
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", f)
	}
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string, f Format) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := &Checkpoint{}
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, cp)
	case FormatProto:
		err = cp.UnmarshalBinary(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}
