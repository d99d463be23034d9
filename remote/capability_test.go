package remote

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCapabilityReport(t *testing.T) {
	r, err := DecodeCapabilityReport([]byte(`{"cpu_count": 8, "virtual_memory": {"available": 1024, "total": 4096}}`))
	require.NoError(t, err)
	assert.Equal(t, CapabilityReport{CPUCount: 8, AvailableMemory: 1024, TotalMemory: 4096}, r)
}

func TestDecodeCapabilityReportTrailingNewline(t *testing.T) {
	r, err := DecodeCapabilityReport([]byte("{\"cpu_count\": 1, \"virtual_memory\": {\"available\": 0, \"total\": 0}}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.CPUCount)
	assert.Equal(t, int64(0), r.AvailableMemory)
}

func TestDecodeCapabilityReportMalformed(t *testing.T) {
	for name, reply := range map[string]string{
		"not json":          `cpu_count=4`,
		"missing cpus":      `{"virtual_memory": {"available": 1, "total": 1}}`,
		"zero cpus":         `{"cpu_count": 0, "virtual_memory": {"available": 1, "total": 1}}`,
		"negative cpus":     `{"cpu_count": -2, "virtual_memory": {"available": 1, "total": 1}}`,
		"missing memory":    `{"cpu_count": 2}`,
		"missing available": `{"cpu_count": 2, "virtual_memory": {"total": 1}}`,
		"negative memory":   `{"cpu_count": 2, "virtual_memory": {"available": -1, "total": 1}}`,
		"string cpus":       `{"cpu_count": "2", "virtual_memory": {"available": 1, "total": 1}}`,
	} {
		_, err := DecodeCapabilityReport([]byte(reply))
		assert.Error(t, err, name)
		assert.Equal(t, ErrMalformedReport, errors.Cause(err), name)
	}
}

func TestEncodeDecodeCapabilityReport(t *testing.T) {
	r, err := NewCapabilityReport(16, 32<<30, 64<<30)
	require.NoError(t, err)
	back, err := DecodeCapabilityReport(EncodeCapabilityReport(r))
	require.NoError(t, err)
	assert.Equal(t, r, back)
}
