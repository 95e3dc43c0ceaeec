package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	payload, err := exporter.Render(Dataset{
		Headers: []string{"Code", "Name"},
		Rows: [][]string{
			{"2026-0001", "Ana Diaz"},
			{"2026-0002", "Bruno, Meza"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Code,Name\n2026-0001,Ana Diaz\n2026-0002,\"Bruno, Meza\"\n", string(payload))
}

func TestCSVExporterRenderPadsShortRows(t *testing.T) {
	exporter := NewCSVExporter()
	payload, err := exporter.Render(Dataset{
		Headers: []string{"Code", "Name", "Status"},
		Rows:    [][]string{{"2026-0001"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Code,Name,Status\n2026-0001,,\n", string(payload))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()
	payload, err := exporter.Render(Dataset{
		Headers: []string{"Code", "Name"},
		Rows:    [][]string{{"2026-0001", "Ana Diaz"}},
	}, "Roster CS101")
	require.NoError(t, err)
	assert.True(t, len(payload) > 0)
	assert.Equal(t, "%PDF", string(payload[:4]))
}
