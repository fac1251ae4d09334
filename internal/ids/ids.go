package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUUID returns a random UUID string for entity identifiers.
func NewUUID() string {
	return uuid.NewString()
}

// NewCode returns a short human-facing code with the given prefix, e.g. a
// warranty code printed on a receipt. The tail is the entropy portion of a
// fresh ULID, so codes stay roughly ordered by issue time.
func NewCode(prefix string) string {
	id := New()
	return prefix + "-" + id[len(id)-10:]
}
