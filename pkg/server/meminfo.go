package server

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// memoryInfo is the raw data behind INFO's `# Memory` section (spec §6).
// Linux exposes all of it directly via procfs; on other platforms the
// process fields fall back to runtime.MemStats and the system fields
// read as zero, which is reported rather than guessed at.
type memoryInfo struct {
	processRSS      uint64
	processRSSPeak  uint64
	totalSystem     uint64
	availableSystem uint64
}

func readMemoryInfo() memoryInfo {
	var info memoryInfo
	info.processRSS, info.processRSSPeak = readProcSelfStatus("/proc/self/status")
	info.totalSystem, info.availableSystem = readProcMeminfo("/proc/meminfo")

	if info.processRSS == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		info.processRSS = ms.Sys
		info.processRSSPeak = ms.Sys
	}
	return info
}

// readProcSelfStatus extracts VmRSS and VmHWM (peak RSS) in bytes.
func readProcSelfStatus(path string) (rss, peak uint64) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "VmRSS:"):
			rss = parseStatusKB(line)
		case strings.HasPrefix(line, "VmHWM:"):
			peak = parseStatusKB(line)
		}
	}
	return rss, peak
}

// readProcMeminfo extracts MemTotal and MemAvailable in bytes.
func readProcMeminfo(path string) (total, available uint64) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseStatusKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseStatusKB(line)
		}
	}
	return total, available
}

// parseStatusKB parses a "Label:\t1234 kB" line into bytes.
func parseStatusKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return n * 1024
}

// memoryHealth classifies system memory usage ratio into the tri-state
// INFO reports (spec §3 "Memory pressure at CRITICAL rejects new SYNCs").
func memoryHealth(usageRatio float64) string {
	switch {
	case usageRatio >= 0.90:
		return "CRITICAL"
	case usageRatio >= 0.75:
		return "WARNING"
	default:
		return "OK"
	}
}

// humanBytes renders n as a binary-prefixed size, e.g. "12.34MiB".
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
