package aggregator

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// MaxBonusMarks is the total number of bonus marks shared by a repository's contributors
const MaxBonusMarks = 4

// BonusMark is one contributor's assigned mark
type BonusMark struct {
	User string `json:"user"`
	Mark int    `json:"mark"`
}

// BonusMarks tracks bonus marks per contributor under a shared budget
type BonusMarks struct {
	mu    sync.RWMutex
	marks map[string]int
	users []string
}

// NewBonusMarks creates a ledger with every contributor at zero
func NewBonusMarks(contributors []string) *BonusMarks {
	b := &BonusMarks{marks: make(map[string]int, len(contributors))}
	for _, user := range contributors {
		if _, ok := b.marks[user]; ok {
			continue
		}
		b.marks[user] = 0
		b.users = append(b.users, user)
	}
	return b
}

// Set assigns mark to user. The change is rejected when the total would exceed MaxBonusMarks.
func (b *BonusMarks) Set(user string, mark int) error {
	if mark < 0 || mark > MaxBonusMarks {
		return apperrors.NewBadRequestError(fmt.Sprintf("bonus mark must be between 0 and %d, got %d", MaxBonusMarks, mark))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.marks[user]
	if !ok {
		return apperrors.NewNotFoundError("contributor " + user)
	}
	if total := b.total() - current + mark; total > MaxBonusMarks {
		return apperrors.NewBadRequestError(fmt.Sprintf("assigning %d to %s would bring the total to %d, above %d", mark, user, total, MaxBonusMarks))
	}
	b.marks[user] = mark
	return nil
}

// Total returns the sum of all assigned marks
func (b *BonusMarks) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total()
}

func (b *BonusMarks) total() int {
	sum := 0
	for _, m := range b.marks {
		sum += m
	}
	return sum
}

// Available returns the marks that could be assigned to user without exceeding the budget
func (b *BonusMarks) Available(user string) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	headroom := MaxBonusMarks - b.total() + b.marks[user]
	out := make([]int, 0, headroom+1)
	for m := 0; m <= headroom && m <= MaxBonusMarks; m++ {
		out = append(out, m)
	}
	return out
}

// List returns the marks in contributor order
func (b *BonusMarks) List() []BonusMark {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BonusMark, 0, len(b.users))
	for _, user := range b.users {
		out = append(out, BonusMark{User: user, Mark: b.marks[user]})
	}
	return out
}

// Awarded returns only the contributors with a non-zero mark, highest first
func (b *BonusMarks) Awarded() []BonusMark {
	var out []BonusMark
	for _, m := range b.List() {
		if m.Mark > 0 {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Mark > out[j].Mark })
	return out
}
