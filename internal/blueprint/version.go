package blueprint

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// versionSource hands out monotonic ULIDs.
type versionSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newVersionSource() *versionSource {
	return &versionSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (v *versionSource) next(now time.Time) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), v.entropy).String()
}
