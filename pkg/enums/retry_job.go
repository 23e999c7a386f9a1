package enums

import "fmt"

// RetryJobType identifies the corrective action a retry job performs.
type RetryJobType string

const (
	RetryJobEndRemoteListing   RetryJobType = "end_remote_listing"
	RetryJobZeroRemoteQuantity RetryJobType = "zero_remote_quantity"
	RetryJobEnforceLocation    RetryJobType = "enforce_location"
	RetryJobSetRemoteLevel     RetryJobType = "set_remote_level"
)

var validRetryJobTypes = []RetryJobType{
	RetryJobEndRemoteListing,
	RetryJobZeroRemoteQuantity,
	RetryJobEnforceLocation,
	RetryJobSetRemoteLevel,
}

// IsValid reports whether the value matches the retry_job_type enum.
func (t RetryJobType) IsValid() bool {
	for _, candidate := range validRetryJobTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseRetryJobType converts raw input into RetryJobType.
func ParseRetryJobType(value string) (RetryJobType, error) {
	for _, candidate := range validRetryJobTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid retry job type %q", value)
}

// RetryJobStatus maps to the retry_job_status enum in Postgres.
type RetryJobStatus string

const (
	RetryJobQueued  RetryJobStatus = "queued"
	RetryJobRunning RetryJobStatus = "running"
	RetryJobDone    RetryJobStatus = "done"
	RetryJobDead    RetryJobStatus = "dead"
)

var validRetryJobStatuses = []RetryJobStatus{
	RetryJobQueued,
	RetryJobRunning,
	RetryJobDone,
	RetryJobDead,
}

func (s RetryJobStatus) IsValid() bool {
	for _, candidate := range validRetryJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
