package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/pkg/metrics"
)

// Treap-based, in-memory RankingStore implementation.
//
// Ordering: best score DESC, then id ASC (registration order). "less" means
// ranks earlier, so in-order traversal yields the leaderboard best to worst.
// Subtree sizes give Rank in O(log n).

type node struct {
	id    int64
	score int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore, aID, bScore, bID int64) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n, in *node) *node {
	if n == nil {
		in.size = 1
		return in
	}
	if less(in.score, in.id, n.score, n.id) {
		n.left = insert(n.left, in)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, in)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id, score int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// position returns the 1-based in-order index of (score, id), or 0 if absent.
func position(n *node, score, id int64) int {
	pos := 0
	for n != nil {
		if n.score == score && n.id == id {
			return pos + nsize(n.left) + 1
		}
		if less(score, id, n.score, n.id) {
			n = n.left
		} else {
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// collectTopN appends up to limit ids in rank order.
func collectTopN(n *node, limit int, out *[]int64) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.id)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// TreapStore is the in-memory RankingStore.
type TreapStore struct {
	mu     sync.RWMutex
	root   *node
	byNick map[string]*model.RankingEntry
	byID   map[int64]*model.RankingEntry
	nextID int64
	rng    *rand.Rand
	seed   uint64

	// Per-nickname locks serialize Upsert callbacks (which may run bcrypt)
	// without blocking readers or other nicknames.
	locks sync.Map // map[string]*sync.Mutex
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byNick: make(map[string]*model.RankingEntry),
		byID:   make(map[int64]*model.RankingEntry),
		seed:   uint64(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	return s
}

func (s *TreapStore) lockFor(nickname string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(nickname, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Upsert implements RankingStore.Upsert.
func (s *TreapStore) Upsert(ctx context.Context, nickname string, fn UpdateFunc) (*model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.lockFor(nickname)
	lock.Lock()
	defer lock.Unlock()

	// Only this goroutine can change nickname's entry until the lock is released.
	s.mu.RLock()
	cur, exists := s.byNick[nickname]
	var snapshot *model.RankingEntry
	if exists {
		c := *cur
		snapshot = &c
	}
	s.mu.RUnlock()

	next, err := fn(snapshot)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return snapshot, nil
	}

	stored := *next
	stored.Nickname = nickname

	s.mu.Lock()
	if exists {
		stored.ID = cur.ID
		s.root = deleteNode(s.root, cur.ID, cur.BestScore)
	} else {
		s.nextID++
		stored.ID = s.nextID
	}
	s.byNick[nickname] = &stored
	s.byID[stored.ID] = &stored
	s.root = insert(s.root, &node{id: stored.ID, score: stored.BestScore, prio: s.rng.Uint64()})
	s.mu.Unlock()

	out := stored
	return &out, nil
}

// TopN implements RankingStore.TopN in O(log n + k).
func (s *TreapStore) TopN(ctx context.Context, n int) ([]model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &ids)

	out := make([]model.RankingEntry, len(ids))
	for i, id := range ids {
		out[i] = *s.byID[id]
	}
	return out, nil
}

// Rank implements RankingStore.Rank in O(log n).
func (s *TreapStore) Rank(ctx context.Context, nickname string) (int, model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return 0, model.RankingEntry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byNick[nickname]
	if !ok {
		return 0, model.RankingEntry{}, ErrNotFound
	}
	return position(s.root, e.BestScore, e.ID), *e, nil
}

// Count returns the number of registered nicknames.
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNick), nil
}
