package common

import (
	"sort"
	"testing"
)

func TestNewULID_UniqueAndSorted(t *testing.T) {
	ids := make([]string, 0, 1000)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewULID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s at %d", id, i)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("expected ids generated in one process to sort in creation order")
	}
}
