package enums

import "fmt"

// SyncAction maps to the sync_action enum in Postgres.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

var validSyncActions = []SyncAction{
	SyncActionCreate,
	SyncActionUpdate,
	SyncActionDelete,
}

// IsValid reports whether the value matches the sync_action enum.
func (a SyncAction) IsValid() bool {
	for _, candidate := range validSyncActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseSyncAction converts raw input into SyncAction.
func ParseSyncAction(value string) (SyncAction, error) {
	for _, candidate := range validSyncActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync action %q", value)
}

// SyncQueueStatus maps to the sync_queue_status enum in Postgres.
type SyncQueueStatus string

const (
	SyncQueueQueued     SyncQueueStatus = "queued"
	SyncQueueProcessing SyncQueueStatus = "processing"
	SyncQueueCompleted  SyncQueueStatus = "completed"
	SyncQueueFailed     SyncQueueStatus = "failed"
)

var validSyncQueueStatuses = []SyncQueueStatus{
	SyncQueueQueued,
	SyncQueueProcessing,
	SyncQueueCompleted,
	SyncQueueFailed,
}

func (s SyncQueueStatus) IsValid() bool {
	for _, candidate := range validSyncQueueStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
