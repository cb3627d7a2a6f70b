package backend

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"codedesk/internal/logging"
)

// Run consumes the harness event stream until it ends or ctx is canceled.
// Each event is ingested into the store and the touched session's
// transcript is republished to its feed. The stream is not redialed here;
// the caller owns restart policy.
func (b *Backend) Run(ctx context.Context) error {
	stream, err := b.harness.Events(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		stream.Close()
		return nil
	})
	g.Go(func() error {
		// A finished stream releases the closer goroutine too.
		defer cancel()
		defer logging.Sync("event pump stopped")
		for {
			ev, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			sessionID, ok, err := b.messages.IngestEvent(ctx, ev)
			if err != nil {
				logging.SyncError("ingest %s: %v", ev.Payload.Type, err)
				continue
			}
			if !ok {
				continue
			}
			b.publishSessionMessages(sessionID)
		}
	})
	return g.Wait()
}
