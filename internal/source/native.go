package source

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrThreadMode is returned by the native backend, which cannot attribute
// CPU percentages to individual threads. Use the top or pidstat backend
// for per-thread detail.
var ErrThreadMode = errors.New("native backend supports process mode only")

// nativeSource queries the kernel through gopsutil instead of shelling out.
type nativeSource struct{}

func newNativeSource() *nativeSource {
	return &nativeSource{}
}

func (s *nativeSource) Sample(ctx context.Context, filter *regexp.Regexp, mode Mode) ([]Sample, error) {
	if mode == ModeThread {
		return nil, ErrThreadMode
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var samples []Sample
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !filter.MatchString(name) {
			continue
		}
		cpu, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		mem := ""
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			mem = strconv.FormatUint(mi.VMS/1024, 10)
		}
		samples = append(samples, Sample{ID: int(p.Pid), Name: name, CPU: cpu, Mem: mem})
	}
	return samples, nil
}
