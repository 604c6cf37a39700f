package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateIdWithPrefix creates a unique, human-scannable ID by prefixing a
// UUIDv4. Used for entities that need a stable, collision-free identifier
// but don't have one supplied by a caller (DLQ items, degradation events).
func GenerateIdWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}
