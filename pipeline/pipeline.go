// Package pipeline wires a Jetstream firehose connection to the link index:
// one producer goroutine reads commit/account events off the websocket, an
// unbounded queue absorbs any momentary gap between arrival rate and
// processing rate, and one consumer goroutine normalizes each event and
// folds it into the index.
//
// The producer/consumer split and the reconnect loop are carried over from
// the teacher's own Jetstream client almost unchanged; what differs is what
// happens to each event once it's off the wire.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/bluesky-social/jetstream/pkg/client"
	"github.com/bluesky-social/jetstream/pkg/client/schedulers/sequential"
	"github.com/bluesky-social/jetstream/pkg/models"

	"github.com/ucosm/link-aggregator/cursor"
	"github.com/ucosm/link-aggregator/index"
	"github.com/ucosm/link-aggregator/ingest"
	"github.com/ucosm/link-aggregator/log"
)

// Pipeline owns one Jetstream connection and feeds normalized events into an
// Index for as long as Run is active.
type Pipeline struct {
	cfg    *client.ClientConfig
	ident  string
	cursor cursor.Store
	index  index.Storage
	logger *slog.Logger

	queue *unboundedQueue
}

// Config selects which events the pipeline asks Jetstream for.
type Config struct {
	Endpoint    string
	Ident       string
	Collections []string
}

func New(cfg Config, store cursor.Store, idx index.Storage, logger *slog.Logger) *Pipeline {
	clientCfg := client.DefaultClientConfig()
	clientCfg.WebsocketURL = cfg.Endpoint
	clientCfg.WantedCollections = cfg.Collections

	return &Pipeline{
		cfg:    clientCfg,
		ident:  cfg.Ident,
		cursor: store,
		index:  idx,
		logger: logger,
	}
}

// Run connects to Jetstream and processes events until ctx is canceled. It
// reconnects on any read error, backing off between attempts, and resumes
// from the last saved cursor each time.
func (p *Pipeline) Run(ctx context.Context) error {
	raw := make(chan json.RawMessage)
	p.queue = newUnboundedQueue(raw)

	go p.consume(ctx)
	go p.periodicCursorSave(ctx)

	sched := sequential.NewScheduler(p.ident, p.logger, func(ctx context.Context, evt *models.Event) error {
		b, err := json.Marshal(evt)
		if err != nil {
			return nil // malformed-at-the-source events are simply dropped
		}
		select {
		case raw <- b:
		case <-ctx.Done():
		}
		return nil
	})

	jsClient, err := client.NewClient(p.cfg, log.New("jetstream"), sched)
	if err != nil {
		return fmt.Errorf("creating jetstream client: %w", err)
	}

	return p.connectAndRead(ctx, jsClient)
}

func (p *Pipeline) connectAndRead(ctx context.Context, jsClient *client.Client) error {
	l := log.FromContext(ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connCtx, cancel := context.WithCancel(ctx)
		err := retry.Do(
			func() error {
				cursorUs := p.startCursor(ctx)
				return jsClient.ConnectAndRead(connCtx, &cursorUs)
			},
			retry.Context(connCtx),
			retry.Attempts(0), // unlimited: the firehose is the whole point of the process
			retry.Delay(time.Second),
			retry.MaxDelay(time.Minute),
			retry.DelayType(retry.BackOffDelay),
			retry.OnRetry(func(n uint, err error) {
				l.Warn("jetstream connection dropped, reconnecting", "attempt", n, "error", err)
			}),
		)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.Error("jetstream connection exhausted retries", "error", err)
			continue
		}
	}
}

func (p *Pipeline) startCursor(ctx context.Context) int64 {
	l := log.FromContext(ctx)
	cursorUs := p.cursor.Get()

	if cursorUs == 0 {
		cursorUs = time.Now().UnixMicro()
		p.cursor.Set(cursorUs)
		l.Info("no cursor saved, starting from now", "time_us", cursorUs)
		return cursorUs
	}

	// a cursor more than two days stale is probably not worth the replay
	// cost; Jetstream itself only retains a limited backlog anyway.
	if time.Now().UnixMicro()-cursorUs > 2*24*time.Hour.Microseconds() {
		cursorUs = time.Now().UnixMicro()
		l.Warn("saved cursor is more than two days old, discarding it")
		p.cursor.Set(cursorUs)
	}

	l.Info("resuming from saved cursor", "time_us", cursorUs)
	return cursorUs
}

func (p *Pipeline) consume(ctx context.Context) {
	l := log.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.queue.out:
			if !ok {
				return
			}
			event, ok := ingest.Normalize(raw)
			if !ok {
				continue
			}
			p.index.Push(ctx, event)
			l.Debug("applied event", "kind", event.Kind)
		}
	}
}

func (p *Pipeline) periodicCursorSave(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cursor.Set(time.Now().UnixMicro())
		}
	}
}

// QueueDepth reports how many events are currently buffered waiting to be
// applied, for the advisory diagnostics surface (index.Summarize).
func (p *Pipeline) QueueDepth() uint32 {
	if p.queue == nil {
		return 0
	}
	return p.queue.Depth()
}
