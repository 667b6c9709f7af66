package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"stagetasks/internal/models"
)

func sampleTasks() []models.Task {
	return []models.Task{
		{
			ID: 0, Title: "Build site", Priority: models.PriorityHigh,
			Stages: []models.Stage{
				{ID: "s1", Label: "Research", Complete: true},
				{ID: "s2", Label: "Design"},
			},
		},
		{ID: 1, Title: "Learn X", Priority: models.PriorityMedium, Stages: []models.Stage{}},
	}
}

func TestExport_JSON(t *testing.T) {
	data, err := Export(sampleTasks(), "json")
	require.NoError(t, err)

	var got []models.Task
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleTasks(), got)
	assert.Contains(t, string(data), `"stage": "Research"`)
}

func TestExport_CSVOneRowPerStage(t *testing.T) {
	data, err := Export(sampleTasks(), "CSV")
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"task_id", "title", "priority", "stage_id", "stage", "complete"},
		{"0", "Build site", "high", "s1", "Research", "true"},
		{"0", "Build site", "high", "s2", "Design", "false"},
		{"1", "Learn X", "medium", "", "", ""},
	}, rows)
}

func TestExport_YAML(t *testing.T) {
	data, err := Export(sampleTasks(), "yaml")
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Build site", got[0]["title"])
	assert.Equal(t, "high", got[0]["priority"])
}

func TestExport_PDF(t *testing.T) {
	data, err := Export(sampleTasks(), "pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(sampleTasks(), "xml")
	require.Error(t, err)
	assert.Equal(t, "application/octet-stream", ContentType("xml"))
	assert.Equal(t, "text/csv; charset=utf-8", ContentType("csv"))
}
