// Package ingest turns a raw, dynamically-shaped Jetstream event into one of
// six ActionableEvent variants, or rejects it. Normalization is pure and
// total: it never returns an error, only ok/not-ok, because the upstream
// feed is adversarial-at-worst and best-effort-at-best — a single
// malformed event must never be able to stop the indexer.
package ingest

import (
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/ucosm/link-aggregator/links"
)

// Scalar domain, built on the ATProto identifier types the rest of the
// ecosystem already uses for exactly these concepts.
type (
	Did        = syntax.DID
	Collection = syntax.NSID
	Rkey       = syntax.RecordKey
)

// RecordId globally identifies one record: the account that authored it,
// the collection (record type) it lives in, and its key within that
// collection.
type RecordId struct {
	Did        Did
	Collection Collection
	Rkey       Rkey
}

// Source identifies a kind of link slot independent of author: a
// collection plus the structural path within it.
type Source struct {
	Collection Collection
	Path       string
}

// RepoId identifies a record within one author's repository, without
// naming the author.
type RepoId struct {
	Collection Collection
	Rkey       Rkey
}

func (r RecordId) RepoId() RepoId {
	return RepoId{Collection: r.Collection, Rkey: r.Rkey}
}

// CollectedLink is re-exported from the links package so callers of this
// package never need to import both.
type CollectedLink = links.CollectedLink

// Kind discriminates the six ActionableEvent variants.
type Kind int

const (
	CreateLinks Kind = iota
	UpdateLinks
	DeleteRecord
	ActivateAccount
	DeactivateAccount
	DeleteAccount
)

func (k Kind) String() string {
	switch k {
	case CreateLinks:
		return "CreateLinks"
	case UpdateLinks:
		return "UpdateLinks"
	case DeleteRecord:
		return "DeleteRecord"
	case ActivateAccount:
		return "ActivateAccount"
	case DeactivateAccount:
		return "DeactivateAccount"
	case DeleteAccount:
		return "DeleteAccount"
	default:
		return "Unknown"
	}
}

// ActionableEvent is the normalizer's output: exactly one of six shapes.
// Go has no native tagged union, so this is modeled as a struct carrying
// only the fields relevant to its Kind — the same approach the teacher
// codebase uses for its own Jetstream event types (a single struct with
// optional sub-fields gated by a discriminator), rather than an interface
// with six implementations, which would make the exhaustive Kind switch in
// the index harder to read for no benefit here.
type ActionableEvent struct {
	Kind Kind

	// valid for CreateLinks, UpdateLinks, DeleteRecord
	RecordId RecordId

	// valid for CreateLinks (as Links) and UpdateLinks (as NewLinks,
	// conceptually — same field, the name differs only in spec prose)
	Links []CollectedLink

	// valid for ActivateAccount, DeactivateAccount, DeleteAccount
	Account Did
}
