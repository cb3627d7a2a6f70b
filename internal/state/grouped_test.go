package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testSession struct {
	ID      int
	Project string
	Rank    int
}

func sessionGroup(s testSession) string { return s.Project }
func sessionKey(s testSession) int      { return s.ID }

func sessionLess(a, b testSession) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

func newGroupedTestCache(initial ...testSession) *GroupedCache[string, int, testSession] {
	return NewGroupedCache("test", initial, sessionGroup, sessionKey, sessionLess)
}

func TestGroupedCache_ListGroupSorted(t *testing.T) {
	c := newGroupedTestCache(
		testSession{ID: 1, Project: "p1", Rank: 2},
		testSession{ID: 2, Project: "p1", Rank: 1},
		testSession{ID: 3, Project: "p2", Rank: 0},
	)

	got, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	want := []testSession{
		{ID: 2, Project: "p1", Rank: 1},
		{ID: 1, Project: "p1", Rank: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("group snapshot mismatch (-want +got):\n%s", diff)
	}

	empty, err := c.ListGroup("unknown")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown group should list empty, got %+v", empty)
	}
}

func TestGroupedCache_RekeyMovesBetweenGroups(t *testing.T) {
	c := newGroupedTestCache(testSession{ID: 1, Project: "p1", Rank: 1})

	rOld, err := c.SubscribeGroup("p1")
	if err != nil {
		t.Fatalf("SubscribeGroup failed: %v", err)
	}
	defer rOld.Cancel()
	rNew, err := c.SubscribeGroup("p2")
	if err != nil {
		t.Fatalf("SubscribeGroup failed: %v", err)
	}
	defer rNew.Cancel()

	// Reassign session 1 to project p2.
	if err := c.Upsert(testSession{ID: 1, Project: "p2", Rank: 1}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	oldList, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	newList, err := c.ListGroup("p2")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(oldList) != 0 {
		t.Errorf("old group should no longer contain the item, got %+v", oldList)
	}
	if len(newList) != 1 || newList[0].ID != 1 {
		t.Errorf("new group should contain the item, got %+v", newList)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rOld.Changed(ctx); err != nil {
		t.Fatalf("old group Changed failed: %v", err)
	}
	if got := rOld.Latest(); len(got) != 0 {
		t.Errorf("old group subscriber should observe the removal, got %+v", got)
	}
	if err := rNew.Changed(ctx); err != nil {
		t.Fatalf("new group Changed failed: %v", err)
	}
	if got := rNew.Latest(); len(got) != 1 {
		t.Errorf("new group subscriber should observe the addition, got %+v", got)
	}
}

func TestGroupedCache_RekeyWithinSameGroupReplaces(t *testing.T) {
	c := newGroupedTestCache(testSession{ID: 1, Project: "p1", Rank: 1})

	if err := c.Upsert(testSession{ID: 1, Project: "p1", Rank: 9}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(got) != 1 || got[0].Rank != 9 {
		t.Errorf("expected single replaced item, got %+v", got)
	}
}

func TestGroupedCache_Remove(t *testing.T) {
	c := newGroupedTestCache(
		testSession{ID: 1, Project: "p1", Rank: 1},
		testSession{ID: 2, Project: "p1", Rank: 2},
	)

	if err := c.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("expected only session 2 to survive, got %+v", got)
	}

	// Unknown item is a no-op.
	if err := c.Remove(99); err != nil {
		t.Fatalf("Remove of unknown item failed: %v", err)
	}
}

func TestGroupedCache_RemoveGroupTeardown(t *testing.T) {
	c := newGroupedTestCache(
		testSession{ID: 1, Project: "p1", Rank: 1},
		testSession{ID: 2, Project: "p1", Rank: 2},
		testSession{ID: 3, Project: "p2", Rank: 1},
	)

	r, err := c.SubscribeGroup("p1")
	if err != nil {
		t.Fatalf("SubscribeGroup failed: %v", err)
	}
	r.Latest()

	if err := c.RemoveGroup("p1"); err != nil {
		t.Fatalf("RemoveGroup failed: %v", err)
	}

	got, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("removed group should list empty, got %+v", got)
	}

	// Other groups are untouched.
	other, err := c.ListGroup("p2")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("unrelated group should be untouched, got %+v", other)
	}

	// The group's watch is retired.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Changed(ctx); err != nil {
		t.Fatalf("Changed failed: %v", err)
	}
	if got := r.Latest(); len(got) != 0 {
		t.Errorf("subscriber should observe group teardown, got %+v", got)
	}
	if err := r.Changed(ctx); !errors.Is(err, ErrWatchClosed) {
		t.Errorf("expected ErrWatchClosed after group teardown, got %v", err)
	}
}

// Reinserting an item after its group was torn down must not resurrect
// stale siblings through the reverse index.
func TestGroupedCache_NoResurrectionAfterRemoveGroup(t *testing.T) {
	c := newGroupedTestCache(
		testSession{ID: 1, Project: "p1", Rank: 1},
		testSession{ID: 2, Project: "p1", Rank: 2},
	)

	if err := c.RemoveGroup("p1"); err != nil {
		t.Fatalf("RemoveGroup failed: %v", err)
	}
	if err := c.Upsert(testSession{ID: 1, Project: "p1", Rank: 1}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := c.ListGroup("p1")
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	want := []testSession{{ID: 1, Project: "p1", Rank: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("only the re-inserted item should exist (-want +got):\n%s", diff)
	}
}

// Same setup-window contract as the entity cache: an Upsert racing
// SubscribeGroup is observed through the seed or through a publish.
func TestGroupedCache_SubscribeDuringUpsertObservesWrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 200; i++ {
		c := newGroupedTestCache()

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := c.Upsert(testSession{ID: 1, Project: "p1", Rank: 1}); err != nil {
				t.Errorf("Upsert failed: %v", err)
			}
		}()

		r, err := c.SubscribeGroup("p1")
		if err != nil {
			t.Fatalf("SubscribeGroup failed: %v", err)
		}
		<-done

		got := r.Latest()
		for len(got) == 0 {
			if err := r.Changed(ctx); err != nil {
				t.Fatalf("iteration %d: subscriber stuck on stale seed: %v", i, err)
			}
			got = r.Latest()
		}
		r.Cancel()
	}
}

func TestGroupedCache_CorruptionIsSticky(t *testing.T) {
	c := NewGroupedCache("boom", nil, sessionGroup, sessionKey,
		func(a, b testSession) bool { panic("sort invariant violated") })

	if err := c.Upsert(testSession{ID: 1, Project: "p1"}); err != nil {
		t.Fatalf("single-item upsert should not invoke the comparator: %v", err)
	}
	if err := c.Upsert(testSession{ID: 2, Project: "p1"}); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
	if _, err := c.ListGroup("p1"); !errors.Is(err, ErrCorrupted) {
		t.Errorf("ListGroup after corruption: expected ErrCorrupted, got %v", err)
	}
	if err := c.RemoveGroup("p1"); !errors.Is(err, ErrCorrupted) {
		t.Errorf("RemoveGroup after corruption: expected ErrCorrupted, got %v", err)
	}
}
