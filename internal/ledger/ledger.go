package ledger

import "gptqual/internal/domain"

// Ledger tallies category labels in order of first appearance. It is owned by
// one run and does no locking of its own.
type Ledger struct {
	order  []string
	counts map[string]int
}

func New() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Record counts one categorized row. An absent category leaves the ledger untouched.
func (l *Ledger) Record(category string, present bool) {
	if !present || category == "" {
		return
	}
	if _, ok := l.counts[category]; !ok {
		l.order = append(l.order, category)
	}
	l.counts[category]++
}

// Categories returns the known labels in insertion order.
func (l *Ledger) Categories() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Ledger) Count(category string) int {
	return l.counts[category]
}

func (l *Ledger) Len() int {
	return len(l.order)
}

func (l *Ledger) Total() int {
	total := 0
	for _, c := range l.counts {
		total += c
	}
	return total
}

// Entries is the display form: (category, count) pairs in insertion order.
func (l *Ledger) Entries() []domain.CategoryCount {
	out := make([]domain.CategoryCount, 0, len(l.order))
	for _, category := range l.order {
		out = append(out, domain.CategoryCount{Category: category, Count: l.Count(category)})
	}
	return out
}
