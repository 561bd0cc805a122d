package api

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ProgressSample is one live progress datapoint emitted by a worker while a
// test is running. Samples are relayed verbatim to observers and play no part
// in lifecycle decisions.
type ProgressSample struct {
	TestId            string    `json:"testId"`
	TaskId            string    `json:"taskId"`
	Region            string    `json:"region"`
	Timestamp         time.Time `json:"timestamp"`
	CompletedRequests uint64    `json:"completedRequests"`
	FailedRequests    uint64    `json:"failedRequests"`
	ActiveUsers       int       `json:"activeUsers"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
}

// UnmarshalProgressSample decodes a relayed sample payload.
func UnmarshalProgressSample(data []byte) (*ProgressSample, error) {
	sample := &ProgressSample{}
	if err := json.Unmarshal(data, sample); err != nil {
		return nil, errors.WithStack(err)
	}
	return sample, nil
}
