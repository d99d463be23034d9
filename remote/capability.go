package remote

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformedReport is returned for capability replies that fail to decode or validate.
var ErrMalformedReport = errors.New("malformed capability report")

// CapabilityReport is what a node says about itself. Values are only produced
// by DecodeCapabilityReport or NewCapabilityReport and are never mutated.
type CapabilityReport struct {
	CPUCount        int   `json:"cpu_count" yaml:"cpu_count"`
	AvailableMemory int64 `json:"available_memory" yaml:"available_memory"`
	TotalMemory     int64 `json:"total_memory" yaml:"total_memory"`
}

func (r CapabilityReport) String() string {
	return fmt.Sprintf("cpus=%d mem_available=%d mem_total=%d", r.CPUCount, r.AvailableMemory, r.TotalMemory)
}

// NewCapabilityReport validates the figures and builds a report.
func NewCapabilityReport(cpus int, available, total int64) (CapabilityReport, error) {
	if cpus <= 0 {
		return CapabilityReport{}, errors.Wrapf(ErrMalformedReport, "cpu_count %d", cpus)
	}
	if available < 0 {
		return CapabilityReport{}, errors.Wrapf(ErrMalformedReport, "available memory %d", available)
	}
	if total < 0 {
		return CapabilityReport{}, errors.Wrapf(ErrMalformedReport, "total memory %d", total)
	}
	return CapabilityReport{CPUCount: cpus, AvailableMemory: available, TotalMemory: total}, nil
}

// The reply sent by a node:
//
//	{"cpu_count": 8, "virtual_memory": {"available": 1073741824, "total": 4294967296}}
type capabilityWire struct {
	CPUCount      *int `json:"cpu_count"`
	VirtualMemory *struct {
		Available *int64 `json:"available"`
		Total     int64  `json:"total"`
	} `json:"virtual_memory"`
}

// DecodeCapabilityReport parses and validates a capability reply.
func DecodeCapabilityReport(data []byte) (CapabilityReport, error) {
	var w capabilityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return CapabilityReport{}, errors.Wrapf(ErrMalformedReport, "%v", err)
	}
	if w.CPUCount == nil {
		return CapabilityReport{}, errors.Wrap(ErrMalformedReport, "missing cpu_count")
	}
	if w.VirtualMemory == nil || w.VirtualMemory.Available == nil {
		return CapabilityReport{}, errors.Wrap(ErrMalformedReport, "missing virtual_memory.available")
	}
	return NewCapabilityReport(*w.CPUCount, *w.VirtualMemory.Available, w.VirtualMemory.Total)
}

// EncodeCapabilityReport renders r in the wire format.
func EncodeCapabilityReport(r CapabilityReport) []byte {
	// Marshal of this shape cannot fail.
	data, _ := json.Marshal(map[string]interface{}{
		"cpu_count": r.CPUCount,
		"virtual_memory": map[string]int64{
			"available": r.AvailableMemory,
			"total":     r.TotalMemory,
		},
	})
	return data
}

// CapabilityScript is a POSIX shell program printing the capability reply.
// Linux nodes read /proc/meminfo; others fall back to sysctl.
const CapabilityScript = `cpus=$(getconf _NPROCESSORS_ONLN 2>/dev/null || sysctl -n hw.ncpu 2>/dev/null || echo 0)
if [ -r /proc/meminfo ]; then
  total=$(awk '/^MemTotal:/ {printf "%.0f", $2 * 1024}' /proc/meminfo)
  avail=$(awk '/^MemAvailable:/ {printf "%.0f", $2 * 1024}' /proc/meminfo)
  if [ -z "$avail" ]; then
    avail=$(awk '/^(MemFree|Buffers|Cached):/ {s += $2} END {printf "%.0f", s * 1024}' /proc/meminfo)
  fi
else
  total=$(sysctl -n hw.memsize 2>/dev/null || sysctl -n hw.physmem 2>/dev/null || echo 0)
  pagesize=$(sysctl -n hw.pagesize 2>/dev/null || echo 4096)
  free=$(sysctl -n vm.page_free_count 2>/dev/null || echo 0)
  avail=$((free * pagesize))
fi
printf '{"cpu_count": %s, "virtual_memory": {"available": %s, "total": %s}}\n' "${cpus:-0}" "${avail:-0}" "${total:-0}"`
