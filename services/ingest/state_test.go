package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "documind:file_status:report.md", statusKey("report.md"))
}

func TestFieldsToStatus(t *testing.T) {
	status := fieldsToStatus(map[string]string{
		"task_id":      "task-7",
		"status":       StatusFailed,
		"uploaded_at":  "2025-01-02T03:04:05Z",
		"completed_at": "2025-01-02T03:09:00Z",
		"error":        "parsing failed",
	})

	assert.Equal(t, "task-7", status.TaskID)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, "2025-01-02T03:04:05Z", status.UploadedAt)
	assert.Equal(t, "2025-01-02T03:09:00Z", status.CompletedAt)
	assert.Equal(t, "parsing failed", status.Error)
}

func TestFieldsToStatus_PartialHash(t *testing.T) {
	status := fieldsToStatus(map[string]string{"status": StatusProcessing})

	assert.Equal(t, StatusProcessing, status.Status)
	assert.Empty(t, status.TaskID)
	assert.Empty(t, status.Error)
}
