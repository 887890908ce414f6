package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/skillcheck/pkg/metrics"
)

// Treap-based, in-memory population index of finalized composite scores.
//
// Ordering: score DESC, then sessionID ASC (deterministic). "less" means
// ranks earlier, so an in-order traversal yields best to worst. Every node
// carries its subtree size, which turns "how many scores are strictly
// below x" into an O(log n) walk.

// scoreScale controls fixed-point scaling from float64. Composite scores are
// small, so six decimal places are exact enough for tie detection.
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	switch {
	case math.IsNaN(x):
		return 0
	case x*scoreScale >= math.MaxInt64:
		return scoreFP(math.MaxInt64)
	case x*scoreScale <= math.MinInt64:
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(x * scoreScale))
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

// Snapshot is an immutable summary of the population published periodically.
// Readers use it without taking the index lock.
type Snapshot struct {
	Size      int
	Mean      float64
	CreatedAt time.Time
}

type node struct {
	id    string
	score scoreFP
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

// less returns true if (aScore, aID) ranks before (bScore, bID).
func less(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
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

func insert(n *node, id string, score scoreFP, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
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
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// countBelow counts nodes whose score is strictly less than score.
// Lower scores live to the right.
func countBelow(n *node, score scoreFP) int {
	count := 0
	for n != nil {
		if n.score < score {
			count += 1 + nsize(n.right)
			n = n.left
		} else {
			n = n.right
		}
	}
	return count
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]PopulationEntry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, PopulationEntry{SessionID: n.id, Score: toFloat(n.score)})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// sumScores adds every fixed-point score in the subtree.
func sumScores(n *node) scoreFP {
	if n == nil {
		return 0
	}
	return n.score + sumScores(n.left) + sumScores(n.right)
}

// TreapIndex implements PopulationIndex.
type TreapIndex struct {
	mu   sync.RWMutex
	root *node
	byID map[string]scoreFP
	rng  *rand.Rand

	snapshotInterval time.Duration
	snapshot         atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapIndex constructs an index and starts periodic snapshot publishing.
func NewTreapIndex(ctx context.Context, opts ...IndexOption) *TreapIndex {
	s := &TreapIndex{
		byID:             make(map[string]scoreFP),
		rng:              rand.New(rand.NewPCG(defaultSeed, defaultSeed)), //nolint:gosec // priorities only need to be well spread
		snapshotInterval: defaultSnapshotInterval,
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapIndex) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

// publishSnapshot rebuilds and publishes a new snapshot.
func (s *TreapIndex) publishSnapshot() {
	start := time.Now()

	s.mu.RLock()
	size := len(s.byID)
	sum := sumScores(s.root)
	s.mu.RUnlock()

	snap := &Snapshot{Size: size, CreatedAt: time.Now()}
	if size > 0 {
		snap.Mean = toFloat(sum) / float64(size)
	}
	s.snapshot.Store(snap)

	metrics.RecordIndexSnapshot(float64(time.Since(start).Milliseconds()))
	metrics.UpdatePopulationSize(snap.Size)
}

// Snapshot returns the latest published snapshot. It never blocks on writers.
func (s *TreapIndex) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Close stops the snapshot goroutine.
func (s *TreapIndex) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Upsert implements PopulationIndex.Upsert. Returns true when the stored score changed.
func (s *TreapIndex) Upsert(ctx context.Context, sessionID string, score float64) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ns := toFixedPoint(score)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[sessionID]; ok {
		if old == ns {
			return false, nil
		}
		s.root = deleteNode(s.root, sessionID, old)
	}
	s.byID[sessionID] = ns
	s.root = insert(s.root, sessionID, ns, s.rng.Uint64())
	return true, nil
}

// Score implements PopulationIndex.Score.
func (s *TreapIndex) Score(_ context.Context, sessionID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[sessionID]
	return toFloat(v), ok
}

// Count implements PopulationIndex.Count.
func (s *TreapIndex) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Standing implements PopulationIndex.Standing. Every count is taken under
// one read lock so a concurrent upsert cannot skew the ratio.
func (s *TreapIndex) Standing(_ context.Context, sessionID string, score float64) (below, others int) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	fp := toFixedPoint(score)
	s.mu.RLock()
	defer s.mu.RUnlock()
	below = countBelow(s.root, fp)
	others = len(s.byID)
	if self, ok := s.byID[sessionID]; ok {
		others--
		// A stale self entry is not a lower score.
		if self < fp {
			below--
		}
	}
	return below, others
}

// TopN implements PopulationIndex.TopN.
func (s *TreapIndex) TopN(_ context.Context, n int) ([]PopulationEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	out := make([]PopulationEntry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &out)
	s.mu.RUnlock()

	assignRanksWithTies(out)
	return out, nil
}

// assignRanksWithTies gives equal scores the same competition rank (1, 1, 3).
func assignRanksWithTies(entries []PopulationEntry) {
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
