package ingest

import (
	"encoding/json"

	"github.com/ucosm/link-aggregator/links"
)

// Normalize turns one raw Jetstream message into an ActionableEvent. The
// second return value is false for any shape this package doesn't
// recognize, or for a recognized shape missing a required field — per the
// design note in spec.md §9, this deliberately does not pre-deserialize
// into a typed schema: new collections and new event shapes show up on the
// firehose constantly, and a struct-tag unmarshal would have to be kept in
// lockstep with every one of them just to keep rejecting the ones we don't
// care about.
func Normalize(raw json.RawMessage) (ActionableEvent, bool) {
	root, ok := asObject(raw)
	if !ok {
		return ActionableEvent{}, false
	}

	kind, ok := getString(root, "kind")
	if !ok {
		return ActionableEvent{}, false
	}

	switch kind {
	case "commit":
		return normalizeCommit(root)
	case "account":
		return normalizeAccount(root)
	default:
		return ActionableEvent{}, false
	}
}

func normalizeCommit(root map[string]json.RawMessage) (ActionableEvent, bool) {
	did, ok := getString(root, "did")
	if !ok {
		return ActionableEvent{}, false
	}

	commit, ok := asObject(root["commit"])
	if !ok {
		return ActionableEvent{}, false
	}

	collection, ok := getString(commit, "collection")
	if !ok {
		return ActionableEvent{}, false
	}
	rkey, ok := getString(commit, "rkey")
	if !ok {
		return ActionableEvent{}, false
	}
	operation, ok := getString(commit, "operation")
	if !ok {
		return ActionableEvent{}, false
	}

	recordId := RecordId{
		Did:        Did(did),
		Collection: Collection(collection),
		Rkey:       Rkey(rkey),
	}

	switch operation {
	case "create":
		found := links.Collect(commit["record"])
		if len(found) == 0 {
			// a record without links is uninteresting; don't even bother
			// creating an empty entry for it.
			return ActionableEvent{}, false
		}
		return ActionableEvent{Kind: CreateLinks, RecordId: recordId, Links: found}, true

	case "update":
		if _, ok := commit["record"]; !ok {
			return ActionableEvent{}, false
		}
		// unlike create, an update must be emitted even with zero links:
		// it may be clearing out links a prior version of the record had.
		found := links.Collect(commit["record"])
		return ActionableEvent{Kind: UpdateLinks, RecordId: recordId, Links: found}, true

	case "delete":
		return ActionableEvent{Kind: DeleteRecord, RecordId: recordId}, true

	default:
		return ActionableEvent{}, false
	}
}

func normalizeAccount(root map[string]json.RawMessage) (ActionableEvent, bool) {
	account, ok := asObject(root["account"])
	if !ok {
		return ActionableEvent{}, false
	}

	did, ok := getString(account, "did")
	if !ok {
		return ActionableEvent{}, false
	}

	active, ok := getBool(account, "active")
	if !ok {
		return ActionableEvent{}, false
	}

	status, hasStatus := getString(account, "status")

	switch {
	case active && !hasStatus:
		return ActionableEvent{Kind: ActivateAccount, Account: Did(did)}, true
	case !active && hasStatus && status == "deactivated":
		return ActionableEvent{Kind: DeactivateAccount, Account: Did(did)}, true
	case !active && hasStatus && status == "deleted":
		return ActionableEvent{Kind: DeleteAccount, Account: Did(did)}, true
	default:
		return ActionableEvent{}, false
	}
}

// --- minimal dynamic-JSON helpers -------------------------------------
//
// Deliberately not a full generic JSON tree (see links.Collect for that):
// the event envelope only ever needs one level of object nesting at a
// time, so a flat map[string]json.RawMessage per level is enough and
// keeps every accessor a two-line fail-soft lookup.

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func getString(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, present := obj[key]
	if !present {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func getBool(obj map[string]json.RawMessage, key string) (bool, bool) {
	raw, present := obj[key]
	if !present {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}
