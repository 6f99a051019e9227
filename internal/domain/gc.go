package domain

// GCMode selects what a garbage collection run looks at.
type GCMode string

const (
	GCModeOrphan    GCMode = "orphan"
	GCModeRetention GCMode = "retention"
)

// GCState is a step of a garbage collection run.
type GCState string

const (
	GCStateScanning   GCState = "scanning"
	GCStateEvaluating GCState = "evaluating"
	GCStateReporting  GCState = "reporting"
	GCStateDeleting   GCState = "deleting"
	GCStateDone       GCState = "done"
)

// Reason codes reported by a garbage collection run.
const (
	GCErrStorageListFailed  = "storage_list_failed"
	GCErrRecordLookupFailed = "record_lookup_failed"
	GCErrRecordListFailed   = "record_list_failed"
	GCErrDeleteFailed       = "delete_failed"
	GCErrDisabled           = "gc_disabled"
	GCErrAlreadyRunning     = "gc_already_running"
	GCErrRetentionDisabled  = "retention_disabled"
	GCErrInvalidMode        = "invalid_mode"
	GCErrUnknownDisk        = "unknown_disk"
	GCErrNotUploadDisk      = "not_upload_disk"
)

// GCResult summarizes a garbage collection run.
type GCResult struct {
	OK                 bool     `json:"ok"`
	Mode               GCMode   `json:"mode"`
	DryRun             bool     `json:"dryRun"`
	State              GCState  `json:"state"`
	ScannedStorage     int      `json:"scannedStorage"`
	ScannedDB          int      `json:"scannedDb"`
	Candidates         int      `json:"candidates"`
	DeletedCount       int      `json:"deletedCount"`
	FailedCount        int      `json:"failedCount"`
	BytesFreedEstimate int64    `json:"bytesFreedEstimate"`
	Paths              []string `json:"paths,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// WouldDelete is the number of objects a dry run selected.
func (r GCResult) WouldDelete() int {
	if r.DryRun {
		return len(r.Paths)
	}

	return 0
}
