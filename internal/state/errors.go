package state

import (
	"errors"
	"fmt"
)

// ErrCorrupted indicates a cache detected an internal invariant violation
// (a key/sort callback panicked while the cache was mid-mutation). The
// cache refuses further operations rather than serving possibly-torn state.
// Fatal for the call; callers must not retry automatically.
var ErrCorrupted = errors.New("state corrupted")

// ErrWatchClosed is returned by Receiver.Changed once the watch has been
// retired and the receiver has observed the final value.
var ErrWatchClosed = errors.New("watch closed")

func corruptedErr(cache, section string) error {
	return fmt.Errorf("%s/%s: %w", cache, section, ErrCorrupted)
}
