package attribution

import (
	"errors"

	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

var (
	// ErrInvalidWindow reports an unparsable period/date pair.
	ErrInvalidWindow = period.ErrInvalidWindow
	// ErrInvalidSegment reports an unparsable segment expression.
	ErrInvalidSegment = segment.ErrInvalidSegment
	// ErrInvalidSite reports a non-positive site id.
	ErrInvalidSite = errors.New("invalid site id")
	// ErrStorageUnavailable reports an unreachable row or rollup store.
	ErrStorageUnavailable = storage.ErrUnavailable
)

// IsRequestError reports whether err was caused by the request itself
// rather than by a store.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidSegment) ||
		errors.Is(err, ErrInvalidSite)
}
