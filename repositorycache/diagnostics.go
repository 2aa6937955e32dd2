package repositorycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMissingID is the MirrorFailure cause for a remote record without an id.
var ErrMissingID = errors.New("record has no id")

// MirrorFailure describes a mirror write that failed after a successful
// remote call. The remote result was still returned to the caller.
type MirrorFailure struct {
	Op    string
	Table string
	// ID is 0 for bulk writes.
	ID  int64
	Err error
}

func (f MirrorFailure) Error() string {
	if f.ID == 0 {
		return fmt.Sprintf("mirror %s %s: %v", f.Op, f.Table, f.Err)
	}
	return fmt.Sprintf("mirror %s %s/%d: %v", f.Op, f.Table, f.ID, f.Err)
}

func (f MirrorFailure) Unwrap() error { return f.Err }

// MirrorObserver receives every mirror failure of a repository.
type MirrorObserver func(ctx context.Context, failure MirrorFailure)

type mirrorSinkKey struct{}

type mirrorSink struct {
	mu       sync.Mutex
	failures []MirrorFailure
}

// CollectMirrorFailures returns a context that records the mirror failures
// of calls made with it, and a function reading what was recorded so far.
func CollectMirrorFailures(ctx context.Context) (context.Context, func() []MirrorFailure) {
	if ctx == nil {
		ctx = context.Background()
	}
	sink := &mirrorSink{}
	read := func() []MirrorFailure {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return append([]MirrorFailure(nil), sink.failures...)
	}
	return context.WithValue(ctx, mirrorSinkKey{}, sink), read
}

func recordMirrorFailure(ctx context.Context, failure MirrorFailure) {
	sink, ok := ctx.Value(mirrorSinkKey{}).(*mirrorSink)
	if !ok {
		return
	}
	sink.mu.Lock()
	sink.failures = append(sink.failures, failure)
	sink.mu.Unlock()
}
