package ledger

import "testing"

func TestRecordKeepsInsertionOrderAndCounts(t *testing.T) {
	l := New()
	for _, c := range []string{"Billing", "Shipping delays", "Billing", "Praise", "Billing"} {
		l.Record(c, true)
	}

	entries := l.Entries()
	want := []struct {
		category string
		count    int
	}{
		{"Billing", 3},
		{"Shipping delays", 1},
		{"Praise", 1},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Category != w.category || entries[i].Count != w.count {
			t.Fatalf("entry %d = %+v, want %s=%d", i, entries[i], w.category, w.count)
		}
	}
	if l.Total() != 5 {
		t.Fatalf("Total() = %d, want 5", l.Total())
	}
}

func TestRecordAbsentIsNoop(t *testing.T) {
	l := New()
	l.Record("", false)
	l.Record("ignored", false)
	l.Record("", true)
	if l.Len() != 0 || l.Total() != 0 {
		t.Fatalf("expected empty ledger, got len=%d total=%d", l.Len(), l.Total())
	}
}

func TestCategoriesReturnsCopy(t *testing.T) {
	l := New()
	l.Record("A", true)
	cats := l.Categories()
	cats[0] = "mutated"
	if l.Categories()[0] != "A" {
		t.Fatalf("Categories() must not expose internal order slice")
	}
}
