package domain

import "time"

// BatchStatus is the status of one repository within a batch run
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusError      BatchStatus = "error"
)

// RunState is the state of a whole batch run
type RunState string

const (
	RunStateIdle        RunState = "idle"
	RunStateValidating  RunState = "validating"
	RunStateRunning     RunState = "running"
	RunStateCompleted   RunState = "completed"
	RunStateInterrupted RunState = "interrupted"
	RunStateFailed      RunState = "failed"
)

// Terminal reports whether no further transitions can happen
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateInterrupted || s == RunStateFailed
}

// BatchItem tracks one repository through a batch run
type BatchItem struct {
	ID     string         `json:"id"`
	Input  string         `json:"url"`
	Repo   RepoIdentifier `json:"repo"`
	Status BatchStatus    `json:"status"`
	Result *RepoResult    `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchReport is the outcome of a batch run
type BatchReport struct {
	RunID    string       `json:"id"`
	State    RunState     `json:"state"`
	Progress int          `json:"progress"`
	Items    []BatchItem  `json:"items"`
	Results  []RepoResult `json:"results"`
	Warnings []string     `json:"warnings,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// BatchRun is the journal record of a batch run
type BatchRun struct {
	ID         string
	State      RunState
	Message    string
	ItemCount  int
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BatchItemRecord is the journal record of one item in a batch run
type BatchItemRecord struct {
	RunID       string
	ItemID      string
	Position    int
	Input       string
	Owner       string
	RepoName    string
	Status      BatchStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
