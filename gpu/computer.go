package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/neurocf/detector"
	"github.com/openfluke/neurocf/kernel"
	"github.com/openfluke/neurocf/tensor"
)

// ErrBudget is returned when staging a matrix would exceed the device
// memory budget or the largest matrix one dispatch can cover.
var ErrBudget = errors.New("gpu: memory budget exceeded")

// Options tunes a Computer. Zero values take the detector's recommendation.
type Options struct {
	Workgroup   uint32
	BudgetBytes uint64
	MaxElements int
}

// Computer implements tensor.Computer on the shared WebGPU context. Every
// primitive is submitted and waited for before it returns.
type Computer struct {
	ctx     *Context
	wg      uint32
	budget  uint64
	maxElem int
	report  *detector.Report

	mu    sync.Mutex
	bufs  map[*tensor.Mat]*wgpu.Buffer
	pipes map[string]*wgpu.ComputePipeline
	bytes uint64
}

var _ tensor.Computer = (*Computer)(nil)

// New returns a Computer with detected defaults.
func New() (*Computer, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions returns a Computer on the shared context.
func NewWithOptions(opts Options) (*Computer, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	rep := detector.FromAdapter(c.Adapter)
	if opts.Workgroup == 0 {
		opts.Workgroup = rep.Recommended.WorkgroupX
	}
	if opts.BudgetBytes == 0 {
		opts.BudgetBytes = rep.Recommended.BudgetBytes
	}
	if opts.MaxElements == 0 {
		opts.MaxElements = rep.Recommended.MaxElements
	}
	if Debug {
		Log("computer on %s: workgroup %d, budget %d bytes", rep.Name, opts.Workgroup, opts.BudgetBytes)
	}
	return &Computer{
		ctx:     c,
		wg:      opts.Workgroup,
		budget:  opts.BudgetBytes,
		maxElem: opts.MaxElements,
		report:  rep,
		bufs:    make(map[*tensor.Mat]*wgpu.Buffer),
		pipes:   make(map[string]*wgpu.ComputePipeline),
	}, nil
}

func (g *Computer) Name() string { return "gpu" }
func (g *Computer) Device() bool { return true }

// Report returns the adapter summary the computer was configured from.
func (g *Computer) Report() *detector.Report { return g.report }

func (g *Computer) Resident(m *tensor.Mat) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.bufs[m]
	return ok
}

// Live returns the number of staged matrices.
func (g *Computer) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bufs)
}

// Bytes returns the device memory held by staged matrices.
func (g *Computer) Bytes() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bytes
}

// grab returns m's buffer, allocating one if needed. Callers hold g.mu.
func (g *Computer) grab(m *tensor.Mat) (*wgpu.Buffer, error) {
	size := uint64(m.Len() * 4)
	if buf, ok := g.bufs[m]; ok {
		if buf.GetSize() == size {
			return buf, nil
		}
		g.free(m, buf)
	}
	if m.Len() > g.maxElem {
		return nil, fmt.Errorf("%w: %dx%d is over %d elements", ErrBudget, m.Rows(), m.Cols(), g.maxElem)
	}
	if g.bytes+size > g.budget {
		return nil, fmt.Errorf("%w: %d + %d > %d", ErrBudget, g.bytes, size, g.budget)
	}
	buf, err := NewStorageBuffer(g.ctx, fmt.Sprintf("Mat%dx%d", m.Rows(), m.Cols()), m.Len())
	if err != nil {
		return nil, err
	}
	g.bufs[m] = buf
	g.bytes += size
	if Debug {
		Log("grab %dx%d (%d live)", m.Rows(), m.Cols(), len(g.bufs))
	}
	return buf, nil
}

func (g *Computer) free(m *tensor.Mat, buf *wgpu.Buffer) {
	g.bytes -= buf.GetSize()
	buf.Destroy()
	buf.Release()
	delete(g.bufs, m)
}

func (g *Computer) Grab(m *tensor.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.grab(m)
	return err
}

func (g *Computer) Send(m *tensor.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf, err := g.grab(m)
	if err != nil {
		return err
	}
	g.ctx.Queue.WriteBuffer(buf, 0, wgpu.ToBytes(toF32(m.Data())))
	return nil
}

func (g *Computer) Receive(m *tensor.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf, ok := g.bufs[m]
	if !ok {
		return fmt.Errorf("gpu receive: %w", tensor.ErrNotResident)
	}
	vals, err := ReadBuffer(g.ctx, buf, m.Len())
	if err != nil {
		return err
	}
	data := m.Data()
	for i, v := range vals {
		data[i] = float64(v)
	}
	return nil
}

func (g *Computer) Release(m *tensor.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if buf, ok := g.bufs[m]; ok {
		g.free(m, buf)
	}
	return nil
}

// Close frees every staged buffer and cached pipeline. Host values are not
// synced; use a tensor.Scope for that.
func (g *Computer) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for m, buf := range g.bufs {
		g.free(m, buf)
	}
	for src, p := range g.pipes {
		p.Release()
		delete(g.pipes, src)
	}
	return nil
}

func (g *Computer) Mul(a, b, out *tensor.Mat, t tensor.Transpose) error {
	if err := tensor.CheckMul(a, b, out, t); err != nil {
		return err
	}
	rows, cols := out.Dims()
	inner := a.Cols()
	var flags uint32
	switch t {
	case tensor.First:
		inner = a.Rows()
		flags = flagFirst
	case tensor.Second:
		flags = flagSecond
	}
	dims := wgpu.ToBytes([]uint32{uint32(rows), uint32(cols), uint32(inner), flags})
	return g.dispatch("mul", mulShader(g.wg), out, dims, a, b)
}

func (g *Computer) Sub(a, b, out *tensor.Mat) error {
	if err := tensor.CheckSame("sub", a, b, out); err != nil {
		return err
	}
	return g.dispatch("sub", zipShader("-", g.wg), out, nil, a, b)
}

func (g *Computer) Hadamard(a, b, out *tensor.Mat) error {
	if err := tensor.CheckSame("hadamard", a, b, out); err != nil {
		return err
	}
	return g.dispatch("hadamard", zipShader("*", g.wg), out, nil, a, b)
}

func (g *Computer) Scale(in, out *tensor.Mat, k float64) error {
	if err := tensor.CheckSame("scale", in, out); err != nil {
		return err
	}
	params := wgpu.ToBytes([]float32{float32(k), 0, 0, 0})
	return g.dispatch("scale", scaleShader(g.wg), out, params, in)
}

func (g *Computer) Map(in, out *tensor.Mat, f tensor.Func) error {
	if err := tensor.CheckSame("map", in, out); err != nil {
		return err
	}
	if err := f.Check(g, "map"); err != nil {
		return err
	}
	p, err := kernel.Parse(f.Kernel)
	if err != nil {
		return fmt.Errorf("gpu map: %w", err)
	}
	return g.dispatch("map", mapShader(p.WGSL(), g.wg), out, nil, in)
}

func (g *Computer) Fill(m *tensor.Mat, v float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf, ok := g.bufs[m]
	if !ok {
		return fmt.Errorf("gpu fill: %w", tensor.ErrNotResident)
	}
	vals := make([]float32, m.Len())
	for i := range vals {
		vals[i] = float32(v)
	}
	g.ctx.Queue.WriteBuffer(buf, 0, wgpu.ToBytes(vals))
	return nil
}

// pipeline returns the cached pipeline for src. Callers hold g.mu.
func (g *Computer) pipeline(label, src string) (*wgpu.ComputePipeline, error) {
	if p, ok := g.pipes[src]; ok {
		return p, nil
	}
	if Debug {
		Log("compiling %s shader", label)
	}
	module, err := g.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return nil, fmt.Errorf("shader compile %s: %w", label, err)
	}
	defer module.Release()

	p, err := g.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline create %s: %w", label, err)
	}
	g.pipes[src] = p
	return p, nil
}

// dispatch binds ins, then out, then an optional uniform block, runs one
// invocation per output element and waits for completion. When out aliases
// an input the shader writes to a scratch buffer which is then copied over.
func (g *Computer) dispatch(label, src string, out *tensor.Mat, uniform []byte, ins ...*tensor.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries := make([]wgpu.BindGroupEntry, 0, len(ins)+2)
	aliased := false
	for i, m := range ins {
		buf, ok := g.bufs[m]
		if !ok {
			return fmt.Errorf("gpu %s operand %d: %w", label, i, tensor.ErrNotResident)
		}
		aliased = aliased || m == out
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i), Buffer: buf, Size: buf.GetSize()})
	}
	dst, ok := g.bufs[out]
	if !ok {
		return fmt.Errorf("gpu %s output: %w", label, tensor.ErrNotResident)
	}

	target := dst
	if aliased {
		tmp, err := NewStorageBuffer(g.ctx, label+"_Scratch", out.Len())
		if err != nil {
			return err
		}
		defer tmp.Destroy()
		target = tmp
	}
	entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(len(ins)), Buffer: target, Size: target.GetSize()})

	if uniform != nil {
		ub, err := NewUniformBuffer(g.ctx, label+"_Params", uniform)
		if err != nil {
			return err
		}
		defer ub.Destroy()
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(len(ins) + 1), Buffer: ub, Size: ub.GetSize()})
	}

	pipe, err := g.pipeline(label, src)
	if err != nil {
		return err
	}
	bg, err := g.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label + "_Bind",
		Layout:  pipe.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group %s: %w", label, err)
	}
	defer bg.Release()

	enc, err := g.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	workgroups := (uint32(out.Len()) + g.wg - 1) / g.wg
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()
	if aliased {
		enc.CopyBufferToBuffer(target, 0, dst, 0, dst.GetSize())
	}
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish %s: %w", label, err)
	}
	g.ctx.Queue.Submit(cmd)
	g.ctx.Device.Poll(true, nil)

	if Debug {
		Log("dispatched %s with %d workgroups", label, workgroups)
	}
	return nil
}

func toF32(src []float64) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}
