package index

import (
	"context"
	"testing"

	"github.com/ucosm/link-aggregator/ingest"
)

func rec(did, collection, rkey string) ingest.RecordId {
	return ingest.RecordId{
		Did:        ingest.Did(did),
		Collection: ingest.Collection(collection),
		Rkey:       ingest.Rkey(rkey),
	}
}

func link(target, path string) ingest.CollectedLink {
	return ingest.CollectedLink{Target: target, Path: path}
}

func mustCount(t *testing.T, idx *Index, target, collection, path string, want uint64) {
	t.Helper()
	got, err := idx.Count(target, collection, path)
	if err != nil {
		t.Fatalf("Count(%q, %q, %q): %v", target, collection, path, err)
	}
	if got != want {
		t.Fatalf("Count(%q, %q, %q) = %d, want %d", target, collection, path, got, want)
	}
}

func TestEmpty(t *testing.T) {
	idx := New(nil)
	mustCount(t, idx, "", "", "", 0)
	mustCount(t, idx, "a", "b", "c", 0)
	mustCount(t, idx,
		"at://did:plc:b3rzzkblqsxhr3dgcueymkqe/app.bsky.feed.post/3lf6yc4drhk2f",
		"app.test.collection", ".reply.parent.uri", 0)
}

func TestLinksCreateAndDeleteLifecycle(t *testing.T) {
	idx := New(nil)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "bad.com", "app.test.collection", ".abc.uri", 0)
	mustCount(t, idx, "e.com", "app.test.collection", ".def.uri", 0)

	// delete under the wrong collection: no effect
	idx.RemoveLinks(rec("did:plc:asdf", "app.test.wrongcollection", "fdsa"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)

	// delete under the wrong rkey: no effect
	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "wrongkey"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)

	// finally actually delete it
	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 0)

	// put it back
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)

	// add another link from this user, different record
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa2"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 2)

	// add a link from someone else
	idx.AddLinks(rec("did:plc:asdfasdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 3)

	// delete the first one again
	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 2)
}

func TestTwoRecordsSameAuthorDeleteOne(t *testing.T) {
	idx := New(nil)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "A"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "B"), []ingest.CollectedLink{link("e.com", ".abc.uri")})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 2)

	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "A"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)
}

func TestDeleteAccountRemovesAllItsLinks(t *testing.T) {
	idx := New(nil)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "A"), []ingest.CollectedLink{link("a.com", ".abc.uri")})
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "B"), []ingest.CollectedLink{link("b.com", ".abc.uri")})
	mustCount(t, idx, "a.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "b.com", "app.test.collection", ".abc.uri", 1)

	idx.AddLinks(rec("did:plc:fdsa", "app.test.collection", "A"), []ingest.CollectedLink{link("a.com", ".abc.uri")})
	mustCount(t, idx, "a.com", "app.test.collection", ".abc.uri", 2)

	idx.DeleteAccount("did:plc:asdf")
	mustCount(t, idx, "a.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "b.com", "app.test.collection", ".abc.uri", 0)
}

func TestMultipleLinksInOneRecord(t *testing.T) {
	idx := New(nil)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{
		link("e.com", ".abc.uri"),
		link("f.com", ".xyz[].uri"),
		link("g.com", ".xyz[].uri"),
	})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "f.com", "app.test.collection", ".xyz[].uri", 1)
	mustCount(t, idx, "g.com", "app.test.collection", ".xyz[].uri", 1)

	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"))
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 0)
	mustCount(t, idx, "f.com", "app.test.collection", ".xyz[].uri", 0)
	mustCount(t, idx, "g.com", "app.test.collection", ".xyz[].uri", 0)
}

func TestUpdateLinksReplacesPreviousSet(t *testing.T) {
	idx := New(nil)

	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{
		link("e.com", ".abc.uri"),
		link("f.com", ".xyz[].uri"),
		link("g.com", ".xyz[].uri"),
	})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "f.com", "app.test.collection", ".xyz[].uri", 1)
	mustCount(t, idx, "g.com", "app.test.collection", ".xyz[].uri", 1)

	idx.UpdateLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{
		link("h.com", ".abc.uri"),
		link("f.com", ".xyz[].uri"),
		link("i.com", ".xyz[].uri"),
	})
	mustCount(t, idx, "e.com", "app.test.collection", ".abc.uri", 0)
	mustCount(t, idx, "h.com", "app.test.collection", ".abc.uri", 1)
	mustCount(t, idx, "f.com", "app.test.collection", ".xyz[].uri", 1)
	mustCount(t, idx, "g.com", "app.test.collection", ".xyz[].uri", 0)
	mustCount(t, idx, "i.com", "app.test.collection", ".xyz[].uri", 1)
}

func TestPushDispatchesEveryKind(t *testing.T) {
	idx := New(nil)
	ctx := context.Background()

	idx.Push(ctx, ingest.ActionableEvent{
		Kind:     ingest.CreateLinks,
		RecordId: rec("did:plc:asdf", "app.test.collection", "A"),
		Links:    []ingest.CollectedLink{link("a.com", ".abc.uri")},
	})
	mustCount(t, idx, "a.com", "app.test.collection", ".abc.uri", 1)

	idx.Push(ctx, ingest.ActionableEvent{Kind: ingest.ActivateAccount, Account: "did:plc:asdf"})
	idx.Push(ctx, ingest.ActionableEvent{Kind: ingest.DeactivateAccount, Account: "did:plc:asdf"})

	idx.Push(ctx, ingest.ActionableEvent{
		Kind:     ingest.UpdateLinks,
		RecordId: rec("did:plc:asdf", "app.test.collection", "A"),
		Links:    []ingest.CollectedLink{link("b.com", ".abc.uri")},
	})
	mustCount(t, idx, "a.com", "app.test.collection", ".abc.uri", 0)
	mustCount(t, idx, "b.com", "app.test.collection", ".abc.uri", 1)

	idx.Push(ctx, ingest.ActionableEvent{Kind: ingest.DeleteAccount, Account: "did:plc:asdf"})
	mustCount(t, idx, "b.com", "app.test.collection", ".abc.uri", 0)
}

func TestRemoveLinksPanicsOnInconsistentState(t *testing.T) {
	idx := New(nil)
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{link("e.com", ".abc.uri")})

	// corrupt the forward index behind the index's back, simulating the
	// "should never happen" case the reverse index assumes can't occur.
	delete(idx.targets, "e.com")

	defer func() {
		if recover() == nil {
			t.Fatal("expected RemoveLinks to panic on inconsistent state")
		}
	}()
	idx.RemoveLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"))
}

func TestDeleteAccountPanicsOnInconsistentState(t *testing.T) {
	idx := New(nil)
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "fdsa"), []ingest.CollectedLink{link("e.com", ".abc.uri")})

	delete(idx.targets, "e.com")

	defer func() {
		if recover() == nil {
			t.Fatal("expected DeleteAccount to panic on inconsistent state")
		}
	}()
	idx.DeleteAccount("did:plc:asdf")
}

func TestSummarize(t *testing.T) {
	idx := New(nil)
	idx.AddLinks(rec("did:plc:asdf", "app.test.collection", "A"), []ingest.CollectedLink{link("a.com", ".abc.uri")})

	s := idx.Summarize(7)
	if s.QueueDepth != 7 || s.Accounts != 1 || s.Targets != 1 || s.TargetPaths != 1 || s.Records != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.String() == "" {
		t.Fatal("String() must not be empty")
	}
}
