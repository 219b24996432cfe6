package fleet

import (
	"runtime"
)

// Sampler reports instantaneous CPU and memory load as percentages in
// [0, 100]. No example repo in the retrieved corpus carries a CPU-sampling
// library (gopsutil or similar never appears), so the default
// implementation below is built on stdlib runtime/os rather than an
// ecosystem package, recorded in DESIGN.md.
type Sampler interface {
	Sample() (cpuPercent, memPercent float64)
}

// runtimeSampler approximates load from Go's own runtime stats: goroutine
// count relative to GOMAXPROCS stands in for CPU pressure, and heap usage
// relative to system memory stands in for memory pressure. It is coarse by
// design — a real deployment can swap in a Sampler backed by /proc or a
// cgroup reader without touching the rest of the fleet coordinator.
type runtimeSampler struct {
	memTotal uint64
}

func newRuntimeSampler() *runtimeSampler {
	return &runtimeSampler{memTotal: systemMemoryBytes()}
}

func (s *runtimeSampler) Sample() (float64, float64) {
	procs := runtime.GOMAXPROCS(0)
	goroutines := runtime.NumGoroutine()
	cpu := clampPercent(float64(goroutines) / float64(procs*50) * 100)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mem := clampPercent(float64(m.Sys) / float64(s.memTotal) * 100)

	return cpu, mem
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// systemMemoryBytes is a conservative fixed estimate; only the precision
// of the memory-pressure approximation depends on it, not correctness.
func systemMemoryBytes() uint64 {
	return 4 * 1024 * 1024 * 1024
}
