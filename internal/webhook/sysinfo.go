package webhook

import (
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemSnapshot gathers a best-effort host snapshot for the health endpoint.
// Returns nil when nothing could be collected; health must never fail on it.
func systemSnapshot(logger *slog.Logger) *SystemInfo {
	info := &SystemInfo{}

	hostname, err := os.Hostname()
	if err != nil {
		logger.Debug("hostname unavailable", "error", err)
	}
	info.Hostname = hostname

	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		info.CPUPercent = usage[0]
	} else if err != nil {
		logger.Debug("cpu snapshot unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	} else {
		logger.Debug("memory snapshot unavailable", "error", err)
	}

	if info.Hostname == "" && info.CPUPercent == 0 && info.MemoryPercent == 0 {
		return nil
	}
	return info
}
