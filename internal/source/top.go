package source

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// topSource samples via `top` in batch mode. Two iterations are requested
// and only the second is parsed: top's first frame reports CPU averaged
// since boot, which is useless for a live reading.
type topSource struct {
	path string
}

func newTopSource() *topSource {
	return &topSource{path: "top"}
}

func (s *topSource) Sample(ctx context.Context, filter *regexp.Regexp, mode Mode) ([]Sample, error) {
	args := []string{"-b", "-n", "2", "-w", "512"}
	if mode == ModeThread {
		args = append(args, "-H")
	}
	out, err := runCommand(ctx, s.path, args...)
	if err != nil {
		return nil, fmt.Errorf("run top: %w", err)
	}
	return parseTop(string(out), filter)
}

// parseTop extracts samples from top batch output. Column positions are
// resolved from the header line rather than hard-coded, since field order
// varies across top versions and toolbox implementations.
func parseTop(out string, filter *regexp.Regexp) ([]Sample, error) {
	lines := strings.Split(out, "\n")

	// The last header belongs to the last (freshest) iteration.
	headerIdx := -1
	for i, line := range lines {
		f := strings.Fields(line)
		if containsAll(f, "PID", "%CPU", "COMMAND") {
			headerIdx = i
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("top output has no process table header")
	}

	header := strings.Fields(lines[headerIdx])
	pidCol := indexOf(header, "PID")
	cpuCol := indexOf(header, "%CPU")
	virtCol := indexOf(header, "VIRT")
	cmdCol := indexOf(header, "COMMAND")

	var samples []Sample
	sc := bufio.NewScanner(strings.NewReader(strings.Join(lines[headerIdx+1:], "\n")))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) <= cmdCol {
			continue
		}
		// COMMAND is the last column and may itself contain spaces.
		name := strings.Join(fields[cmdCol:], " ")
		if !filter.MatchString(name) {
			continue
		}
		id, err := strconv.Atoi(fields[pidCol])
		if err != nil {
			continue
		}
		cpu, err := parseDecimal(fields[cpuCol])
		if err != nil {
			continue
		}
		mem := ""
		if virtCol >= 0 && virtCol < len(fields) {
			mem = fields[virtCol]
		}
		samples = append(samples, Sample{ID: id, Name: name, CPU: cpu, Mem: mem})
	}
	return samples, nil
}

func containsAll(fields []string, want ...string) bool {
	for _, w := range want {
		if indexOf(fields, w) < 0 {
			return false
		}
	}
	return true
}

func indexOf(fields []string, want string) int {
	for i, f := range fields {
		if f == want {
			return i
		}
	}
	return -1
}
