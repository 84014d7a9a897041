package domain

import (
	"encoding/json"
	"fmt"
)

type PendingDelivery struct {
	Seq      int64
	JobID    string
	VideoID  string
	FilePath string
	Attempts int
}

// FlushSignal asks the delivery consumer to flush a job's pending queue.
// Drain empties the queue in threshold sized batches; Completed adds the
// job summary once the drain is done.
type FlushSignal struct {
	JobID     string `json:"job_id"`
	Drain     bool   `json:"drain,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

func (s FlushSignal) Encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

func DecodeFlushSignal(payload string) (FlushSignal, error) {
	var s FlushSignal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return FlushSignal{}, fmt.Errorf("decode flush signal: %w", err)
	}
	if s.JobID == "" {
		return FlushSignal{}, fmt.Errorf("decode flush signal: missing job_id")
	}
	return s, nil
}

type FlushResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

func (r FlushResult) Total() int {
	return r.Sent + r.Skipped + r.Failed + r.Dropped
}

// OutgoingFile is a file handed to a notifier.
type OutgoingFile struct {
	Path     string
	Caption  string
	Duration int
}
