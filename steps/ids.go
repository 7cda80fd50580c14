package steps

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// newID returns PREFIX_ followed by a dashless UUID, e.g. TXN_3f2a...
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
