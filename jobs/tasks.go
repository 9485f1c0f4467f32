package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrityScan verifies ledger invariants across all users.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
)

// IntegrityScanPayload describes who asked for a scan.
type IntegrityScanPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewIntegrityScanTask constructs an Asynq task.
func NewIntegrityScanTask(requestedBy string) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityScanPayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityScan, data), nil
}
