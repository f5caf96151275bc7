package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRecordID returns a submission ID of the form rec_<unix ms>_<8 hex>.
// The random suffix comes from a v4 UUID so IDs created in the same
// millisecond stay distinct.
func GenerateRecordID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("rec_%d_%s", now.UnixMilli(), suffix)
}
