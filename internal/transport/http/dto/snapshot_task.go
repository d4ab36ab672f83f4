package dto

import (
	"bytes"
	"encoding/json"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
)

type SnapshotTaskRequest struct {
	SnapshotName string `json:"snapshotName"`
}

// ParseSnapshotTaskRequest decodes a request body. An empty or null body
// yields a nil input; a body that is not a JSON object is an error.
func ParseSnapshotTaskRequest(body []byte) (*ports.SnapshotTaskInput, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var req SnapshotTaskRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return &ports.SnapshotTaskInput{SnapshotName: req.SnapshotName}, nil
}

type AgentInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}
