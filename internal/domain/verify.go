package domain

// VerifyResult is the outcome of an integrity audit.
type VerifyResult struct {
	OK            bool     `json:"ok"`
	Checked       int      `json:"checked"`
	OKCount       int      `json:"okCount"`
	MissingCount  int      `json:"missingCount"`
	MismatchCount int      `json:"mismatchCount"`
	ErrorCount    int      `json:"errorCount"`
	Missing       []string `json:"missing,omitempty"`
	Mismatched    []string `json:"mismatched,omitempty"`
}
