package gcsvc

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/mkrupp/mediavault/internal/domain"
)

// Summary renders a run result as a one-line report.
func Summary(result domain.GCResult) string {
	freed := humanize.Bytes(uint64(max(result.BytesFreedEstimate, 0))) //nolint:gosec

	switch {
	case result.Error != "" && result.DeletedCount == 0 && result.FailedCount == 0:
		return fmt.Sprintf("%s gc aborted: %s", result.Mode, result.Error)
	case result.DryRun:
		return fmt.Sprintf("%s gc dry run: %d candidates, would delete %d, free ~%s",
			result.Mode, result.Candidates, result.WouldDelete(), freed)
	default:
		return fmt.Sprintf("%s gc: %d candidates, deleted %d, failed %d, freed %s",
			result.Mode, result.Candidates, result.DeletedCount, result.FailedCount, freed)
	}
}
