package gpu

import "fmt"

// mapShader wraps a translated kernel body in an element-wise pass.
func mapShader(body string, wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

fn apply(v: f32) -> f32 {
%s	return ret;
}

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&dst)) { return; }
	dst[i] = apply(src[i]);
}
`, body, wg)
}

// zipShader combines two inputs element-wise with a WGSL binary operator.
func zipShader(op string, wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&dst)) { return; }
	dst[i] = a[i] %s b[i];
}
`, wg, op)
}

func scaleShader(wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<uniform> params: vec4<f32>;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&dst)) { return; }
	dst[i] = params.x * src[i];
}
`, wg)
}

// Transpose flags packed into dims.w.
const (
	flagFirst  = 1
	flagSecond = 2
)

// mulShader computes one output element per invocation. dims holds rows,
// cols and inner dimension of op(a)·op(b) plus the transpose flags.
func mulShader(wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;
@group(0) @binding(3) var<uniform> dims: vec4<u32>;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let rows = dims.x;
	let cols = dims.y;
	let inner = dims.z;
	let idx = gid.x;
	if (idx >= rows * cols) { return; }
	let i = idx / cols;
	let j = idx %% cols;
	var s: f32 = 0.0;
	for (var k: u32 = 0u; k < inner; k = k + 1u) {
		var x: f32;
		if ((dims.w & %du) != 0u) { x = a[k * rows + i]; } else { x = a[i * inner + k]; }
		var y: f32;
		if ((dims.w & %du) != 0u) { y = b[j * inner + k]; } else { y = b[k * cols + j]; }
		s = s + x * y;
	}
	dst[idx] = s;
}
`, wg, flagFirst, flagSecond)
}
