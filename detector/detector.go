// Package detector probes a WebGPU adapter and recommends dispatch sizes and
// a memory budget for the gpu computer.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
)

// BudgetEnv overrides the soft device memory budget, in MiB.
const BudgetEnv = "NEUROCF_BUDGET_MB"

const defaultBudget = uint64(128 * 1024 * 1024)

// Report summarizes the adapter a computer runs on.
type Report struct {
	Name        string          `json:"name"`
	Driver      string          `json:"driver,omitempty"`
	Backend     string          `json:"backend"`
	AdapterType string          `json:"adapter_type"`
	Vendor      string          `json:"vendor_id_hex"`
	Limits      Limits          `json:"limits"`
	Features    []string        `json:"features,omitempty"`
	Recommended Recommendations `json:"recommended"`
}

// Limits are the adapter limits the shaders depend on.
type Limits struct {
	InvocationsPerWorkgroup uint32 `json:"invocations_per_workgroup"`
	WorkgroupSizeX          uint32 `json:"workgroup_size_x"`
	WorkgroupsPerDimension  uint32 `json:"workgroups_per_dimension"`
	StorageBindingSize      uint64 `json:"storage_binding_size"`
	BufferSize              uint64 `json:"buffer_size"`
}

type Recommendations struct {
	// 1-D workgroup size used by every element-wise and matmul shader.
	WorkgroupX uint32 `json:"workgroup_x"`
	// Soft budget in bytes for staged matrices.
	BudgetBytes uint64 `json:"budget_bytes"`
	// Largest matrix, in elements, one binding and one dispatch can cover.
	MaxElements int `json:"max_elements"`
}

// String renders the report as indented JSON.
func (r *Report) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("detector: %v", err)
	}
	return string(b)
}

// Detect creates a throwaway instance, probes its high performance adapter
// and releases everything before returning.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	return FromAdapter(adapter), nil
}

// FromAdapter summarizes an adapter that is already in use. It does not
// request a device.
func FromAdapter(adapter *wgpu.Adapter) *Report {
	info := adapter.GetInfo()
	sl := adapter.GetLimits()
	lim := Limits{
		InvocationsPerWorkgroup: sl.Limits.MaxComputeInvocationsPerWorkgroup,
		WorkgroupSizeX:          sl.Limits.MaxComputeWorkgroupSizeX,
		WorkgroupsPerDimension:  sl.Limits.MaxComputeWorkgroupsPerDimension,
		StorageBindingSize:      sl.Limits.MaxStorageBufferBindingSize,
		BufferSize:              sl.Limits.MaxBufferSize,
	}

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	return &Report{
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		Vendor:      fmt.Sprintf("0x%04x", info.VendorId),
		Limits:      lim,
		Features:    feats,
		Recommended: Recommend(lim),
	}
}

// Recommend derives dispatch settings from adapter limits and the
// environment.
func Recommend(l Limits) Recommendations {
	wg := chooseWorkgroup(l)
	return Recommendations{
		WorkgroupX:  wg,
		BudgetBytes: budget(),
		MaxElements: maxElements(l, wg),
	}
}

// chooseWorkgroup picks the largest power of two up to 256 the adapter
// accepts in x.
func chooseWorkgroup(l Limits) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.WorkgroupSizeX && c <= l.InvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// maxElements bounds a float32 matrix by the binding size, the buffer size
// and the one-invocation-per-element dispatch in x.
func maxElements(l Limits, wg uint32) int {
	bytes := l.StorageBindingSize
	if l.BufferSize < bytes {
		bytes = l.BufferSize
	}
	n := bytes / 4
	if d := uint64(wg) * uint64(l.WorkgroupsPerDimension); d < n {
		n = d
	}
	return int(n)
}

func budget() uint64 {
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			return uint64(mb) * 1024 * 1024
		}
	}
	return defaultBudget
}
