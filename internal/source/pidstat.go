package source

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// pidstatSource samples via `pidstat`, which accounts CPU over a one second
// window instead of an instantaneous reading. pidstat reports no memory in
// -u mode, so the owning process's virtual size is read from /proc/<pid>/statm.
type pidstatSource struct {
	path string
}

func newPidstatSource() *pidstatSource {
	return &pidstatSource{path: "pidstat"}
}

func (s *pidstatSource) Sample(ctx context.Context, filter *regexp.Regexp, mode Mode) ([]Sample, error) {
	args := []string{"-u"}
	if mode == ModeThread {
		args = append(args, "-t")
	}
	args = append(args, "1", "1")
	out, err := runCommand(ctx, s.path, args...)
	if err != nil {
		return nil, fmt.Errorf("run pidstat: %w", err)
	}
	return parsePidstat(string(out), filter, mode)
}

// parsePidstat reads the Average section of pidstat output. In thread mode
// rows carrying a TID are kept (the TID "-" row is the process aggregate);
// thread names come prefixed with "|__", which is stripped. Memory is
// attached from the owning process, matching what top would report as VIRT.
func parsePidstat(out string, filter *regexp.Regexp, mode Mode) ([]Sample, error) {
	var (
		samples  []Sample
		header   []string
		memByPID = map[int]string{}
		// In -t mode per-thread rows print "-" under TGID; the owning pid
		// comes from the aggregate row that precedes its thread group.
		currentTGID = -1
	)

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "Average:" {
			continue
		}
		if containsAll(fields, "%CPU", "Command") {
			header = fields
			continue
		}
		if header == nil {
			continue
		}

		cpuCol := indexOf(header, "%CPU")
		cmdCol := indexOf(header, "Command")
		idCol := indexOf(header, "PID")
		if mode == ModeThread {
			idCol = indexOf(header, "TID")
			if tgidCol := indexOf(header, "TGID"); tgidCol >= 0 && tgidCol < len(fields) {
				if v, err := strconv.Atoi(fields[tgidCol]); err == nil {
					currentTGID = v
				}
			}
		}
		if idCol < 0 || cpuCol < 0 || cmdCol < 0 || len(fields) <= cmdCol {
			continue
		}

		id, err := strconv.Atoi(fields[idCol])
		if err != nil {
			// Aggregate rows print "-" in the TID column.
			continue
		}
		name := strings.TrimPrefix(strings.Join(fields[cmdCol:], " "), "|__")
		if !filter.MatchString(name) {
			continue
		}
		cpu, err := parseDecimal(fields[cpuCol])
		if err != nil {
			continue
		}

		owner := id
		if mode == ModeThread && currentTGID > 0 {
			owner = currentTGID
		}
		mem, ok := memByPID[owner]
		if !ok {
			mem = procVirtKB(owner)
			memByPID[owner] = mem
		}
		samples = append(samples, Sample{ID: id, Name: name, CPU: cpu, Mem: mem})
	}
	return samples, nil
}

// procVirtKB is replaced in tests. It returns the virtual size of pid in
// kilobytes as a plain decimal string, or "" when the process is gone.
var procVirtKB = func(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return ""
	}
	pages, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(pages*uint64(os.Getpagesize())/1024, 10)
}
