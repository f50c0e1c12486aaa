// Package index implements the link index: an in-memory, mutex-guarded,
// cross-indexed store of (target, source) -> authors and (author) -> records,
// supporting O(1) counting of how many links point at a given target through
// a given collection/path (every stored link counts, including repeats from
// the same account).
//
// Every operation here is grounded on the in-memory reference store this
// service was distilled from — same three maps, same removal semantics, just
// rendered in Go's idiom (a Mutex around a plain struct rather than a trait
// object over a backend interface).
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ucosm/link-aggregator/ingest"
)

// target is the thing being pointed at — a URI, typically.
type target string

// source identifies where, structurally, a link was found: which collection
// and which path within a record of that collection.
type source struct {
	collection string
	path       string
}

// repoID identifies one record within an account's repo, without naming the
// account — the same pairing ingest.RepoId already names, duplicated here as
// a plain-string key so index's maps don't need ingest's syntax-typed fields
// to be comparable in exactly the way Go map keys require.
type repoID struct {
	collection string
	rkey       string
}

// linkEntry is one (path, target) pair recorded against a repoID, so
// RemoveLinks can walk back the other way from "this record" to "which
// targets/sources need one fewer count".
type linkEntry struct {
	path   string
	target target
}

// Storage is the write/read contract the rest of the service depends on:
// fold a normalized event in, or answer a count. It exists so pipeline and
// api depend on a seam rather than the concrete store — the Go rendering of
// the reference implementation's `LinkStorage`/`StorageBackend` trait split,
// collapsed into one interface since Go has no default-method trait to
// split a storage backend away from the counting logic layered on top of
// it. *Index is the only implementation; tests that need a stand-in can
// satisfy this interface directly instead of depending on sync.Mutex guts.
type Storage interface {
	// Push applies one normalized event to the store.
	Push(ctx context.Context, event ingest.ActionableEvent)

	// Count reports how many links point at target from collection at
	// path, counting each stored link (not distinct accounts).
	Count(target, collection, path string) (uint64, error)

	// Summarize reports the store's current size for diagnostic logging.
	// queueDepth is threaded through from whatever owns the ingestion
	// queue, since the store itself has no notion of one.
	Summarize(queueDepth uint32) Summary
}

var _ Storage = (*Index)(nil)

// Index is the cross-indexed link store. The zero value is not usable; build
// one with New.
type Index struct {
	mu sync.Mutex

	// accounts tracks every DID we've ever seen a link from, and whether the
	// account is currently active. Activity is informational only — nothing
	// here stops counting a deactivated account's links, matching the
	// reference implementation (set_account never touches targets/links).
	accounts map[ingest.Did]bool

	// targets maps a target to every (collection, path) source that points
	// at it, to every account that made that link. The account list is a
	// multiset: the same account can link to the same target from the same
	// source more than once (once per record), and Count must reflect that.
	targets map[target]map[source][]ingest.Did

	// links maps an account to every record it owns, to the (path, target)
	// pairs that record contributed. This is the reverse index RemoveLinks
	// and DeleteAccount need: given only a record or account identity, find
	// every targets/source entry that needs to shrink.
	links map[ingest.Did]map[repoID][]linkEntry

	counter otelmetric.Int64Counter
}

// New builds an empty Index. meter may be nil, in which case no events
// metric is recorded — useful for tests that don't care about telemetry.
func New(meter otelmetric.Meter) *Index {
	idx := &Index{
		accounts: make(map[ingest.Did]bool),
		targets:  make(map[target]map[source][]ingest.Did),
		links:    make(map[ingest.Did]map[repoID][]linkEntry),
	}

	if meter != nil {
		counter, err := meter.Int64Counter(
			"link_aggregator.events_applied",
			otelmetric.WithDescription("events folded into the link index, by kind"),
		)
		if err == nil {
			idx.counter = counter
		}
	}

	return idx
}

func repoIDFrom(r ingest.RecordId) repoID {
	return repoID{collection: string(r.Collection), rkey: string(r.Rkey)}
}

// Push applies one normalized event to the index. It never fails: every
// ActionableEvent.Kind maps to exactly one of the operations below, and each
// of those operations is itself total over its inputs.
func (idx *Index) Push(ctx context.Context, event ingest.ActionableEvent) {
	switch event.Kind {
	case ingest.CreateLinks:
		idx.AddLinks(event.RecordId, event.Links)
	case ingest.UpdateLinks:
		idx.UpdateLinks(event.RecordId, event.Links)
	case ingest.DeleteRecord:
		idx.RemoveLinks(event.RecordId)
	case ingest.ActivateAccount:
		idx.SetAccount(event.Account, true)
	case ingest.DeactivateAccount:
		idx.SetAccount(event.Account, false)
	case ingest.DeleteAccount:
		idx.DeleteAccount(event.Account)
	}

	if idx.counter != nil {
		idx.counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", event.Kind.String())))
	}
}

// AddLinks records every link in links as originating from recordID. Safe to
// call more than once for the same record; each call appends, it does not
// replace (callers that want replace-semantics should use UpdateLinks).
func (idx *Index) AddLinks(recordID ingest.RecordId, links []ingest.CollectedLink) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addLinksLocked(recordID, links)
}

func (idx *Index) addLinksLocked(recordID ingest.RecordId, links []ingest.CollectedLink) {
	did := recordID.Did
	rid := repoIDFrom(recordID)

	for _, link := range links {
		if _, ok := idx.accounts[did]; !ok {
			// creating a link implies the account exists and, absent other
			// information, is active.
			idx.accounts[did] = true
		}

		t := target(link.Target)
		src := source{collection: string(recordID.Collection), path: link.Path}

		if idx.targets[t] == nil {
			idx.targets[t] = make(map[source][]ingest.Did)
		}
		idx.targets[t][src] = append(idx.targets[t][src], did)

		if idx.links[did] == nil {
			idx.links[did] = make(map[repoID][]linkEntry)
		}
		idx.links[did][rid] = append(idx.links[did][rid], linkEntry{path: link.Path, target: t})
	}
}

// RemoveLinks forgets every link recordID previously contributed. It is a
// no-op if the record contributed no links (or doesn't exist).
//
// Removal deletes only one matching author entry per (target, source) pair,
// searching from the end of the slice: a single account can link to the same
// target from the same path more than once (e.g. two separate posts quoting
// the same link), and deleting a record should remove exactly the one count
// it contributed, not every count that account happens to hold there.
// Searching from the end favors recently-appended entries, which is where a
// delete that closely follows a create will find its match fastest — it does
// not otherwise matter which instance is removed, since they're
// indistinguishable beyond which record produced them.
func (idx *Index) RemoveLinks(recordID ingest.RecordId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLinksLocked(recordID)
}

func (idx *Index) removeLinksLocked(recordID ingest.RecordId) {
	did := recordID.Did
	rid := repoIDFrom(recordID)

	repos, ok := idx.links[did]
	if !ok {
		return
	}
	entries, ok := repos[rid]
	if !ok {
		return
	}

	for _, entry := range entries {
		src := source{collection: string(recordID.Collection), path: entry.path}

		sources, ok := idx.targets[entry.target]
		if !ok {
			panic(fmt.Sprintf("index inconsistency: target %q has no entry, but did %q has a saved link to it", entry.target, did))
		}
		dids, ok := sources[src]
		if !ok {
			panic(fmt.Sprintf("index inconsistency: target %q has no entry for source %+v, but did %q has a saved link to it", entry.target, src, did))
		}

		pos := lastIndexOf(dids, did)
		if pos < 0 {
			panic(fmt.Sprintf("index inconsistency: target %q source %+v has no entry for did %q", entry.target, src, did))
		}
		sources[src] = append(dids[:pos], dids[pos+1:]...)
	}

	delete(repos, rid)
}

// UpdateLinks replaces whatever links recordID previously contributed with
// newLinks. Equivalent to RemoveLinks followed by AddLinks, matching the
// reference store's own update_links default.
func (idx *Index) UpdateLinks(recordID ingest.RecordId, newLinks []ingest.CollectedLink) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLinksLocked(recordID)
	idx.addLinksLocked(recordID, newLinks)
}

// SetAccount marks an account active or inactive. It is a no-op for an
// account the index has never seen a link from — accounts only come into
// being via AddLinks, matching the reference store (set_account only
// mutates an existing entry).
func (idx *Index) SetAccount(did ingest.Did, active bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.accounts[did]; ok {
		idx.accounts[did] = active
	}
}

// DeleteAccount forgets an account entirely: every link it ever contributed,
// across every record, is removed from the target index, and the account
// itself is forgotten.
func (idx *Index) DeleteAccount(did ingest.Did) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for rid, entries := range idx.links[did] {
		for _, entry := range entries {
			src := source{collection: rid.collection, path: entry.path}

			sources, ok := idx.targets[entry.target]
			if !ok {
				panic(fmt.Sprintf("index inconsistency: target %q has no entry, but did %q has a saved link to it", entry.target, did))
			}
			dids, ok := sources[src]
			if !ok {
				panic(fmt.Sprintf("index inconsistency: target %q has no entry for source %+v, but did %q has a saved link to it", entry.target, src, did))
			}
			sources[src] = filterOut(dids, did)
		}
	}

	delete(idx.links, did)
	delete(idx.accounts, did)
}

// Count returns how many links point at target from collection at path,
// counting every stored link, including repeats from the same account in one
// record or across records. Zero for any combination the index has never
// seen — this is never an error, just an empty result.
func (idx *Index) Count(targetStr, collection, path string) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sources, ok := idx.targets[target(targetStr)]
	if !ok {
		return 0, nil
	}
	dids, ok := sources[source{collection: collection, path: path}]
	if !ok {
		return 0, nil
	}
	return uint64(len(dids)), nil
}

// Summary is a point-in-time snapshot of the index's size, suitable for a
// periodic diagnostic log line.
type Summary struct {
	QueueDepth   uint32
	Accounts     int
	Targets      int
	TargetPaths  int
	Records      int
	SampleTarget string
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"queue: %s. %s dids, %s targets from %s paths, %s links. sample: %q",
		humanize.Comma(int64(s.QueueDepth)),
		humanize.Comma(int64(s.Accounts)),
		humanize.Comma(int64(s.Targets)),
		humanize.Comma(int64(s.TargetPaths)),
		humanize.Comma(int64(s.Records)),
		s.SampleTarget,
	)
}

// Summarize reports the index's current size, for diagnostic logging.
// queueDepth is threaded through from the pipeline, which is the only place
// that knows how many events are waiting to be applied.
func (idx *Index) Summarize(queueDepth uint32) Summary {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	targetPaths := 0
	for _, sources := range idx.targets {
		targetPaths += len(sources)
	}

	var sample string
	if len(idx.targets) > 0 {
		i, mid := 0, len(idx.targets)/2
		for t := range idx.targets {
			if i == mid {
				sample = string(t)
				break
			}
			i++
		}
	}

	return Summary{
		QueueDepth:   queueDepth,
		Accounts:     len(idx.accounts),
		Targets:      len(idx.targets),
		TargetPaths:  targetPaths,
		Records:      len(idx.links),
		SampleTarget: sample,
	}
}

func lastIndexOf(dids []ingest.Did, did ingest.Did) int {
	for i := len(dids) - 1; i >= 0; i-- {
		if dids[i] == did {
			return i
		}
	}
	return -1
}

func filterOut(dids []ingest.Did, did ingest.Did) []ingest.Did {
	out := dids[:0]
	for _, d := range dids {
		if d != did {
			out = append(out, d)
		}
	}
	return out
}
