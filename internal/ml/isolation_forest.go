package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"auditai/internal/domain"
)

const eulerGamma = 0.5772156649015329

type IsolationForestConfig struct {
	Trees      int
	SampleSize int
	// Contamination is the expected share of outliers in a batch.
	Contamination float64
	Seed          uint64
	Features      []string
	Location      *time.Location
}

func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.05,
		Seed:          42,
		Features:      DefaultAnomalyFeatures,
	}
}

type iNode struct {
	feature int
	split   float64
	left    int
	right   int
	// size is the number of training rows that reached a leaf; zero on inner nodes.
	size int
}

type iTree struct {
	nodes []iNode
}

// IsolationForest is fit on one batch and only scores rows of that batch.
type IsolationForest struct {
	trees      []iTree
	sampleSize int
}

// FitIsolationForest builds the forest over rows. Every row must have the same
// width.
func FitIsolationForest(rows [][]float64, trees, sampleSize int, rng *rand.Rand) *IsolationForest {
	n := len(rows)
	psi := min(sampleSize, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &IsolationForest{sampleSize: psi, trees: make([]iTree, trees)}
	for t := range f.trees {
		idx := rng.Perm(n)[:psi]
		tree := iTree{}
		tree.grow(rows, idx, 0, maxDepth, rng)
		f.trees[t] = tree
	}
	return f
}

func (t *iTree) grow(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) int {
	pos := len(t.nodes)
	t.nodes = append(t.nodes, iNode{feature: -1, size: len(idx)})

	if depth >= maxDepth || len(idx) <= 1 {
		return pos
	}

	// Only features that still vary inside this node can split it.
	width := len(rows[idx[0]])
	var candidates []int
	lo := make([]float64, width)
	hi := make([]float64, width)
	for j := 0; j < width; j++ {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			lo[j] = math.Min(lo[j], rows[i][j])
			hi[j] = math.Max(hi[j], rows[i][j])
		}
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return pos
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right []int
	for _, i := range idx {
		if rows[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.nodes[pos] = iNode{feature: feature, split: split}
	l := t.grow(rows, left, depth+1, maxDepth, rng)
	r := t.grow(rows, right, depth+1, maxDepth, rng)
	t.nodes[pos].left, t.nodes[pos].right = l, r
	return pos
}

func (t *iTree) pathLength(x []float64) float64 {
	depth := 0
	n := t.nodes[0]
	for n.feature >= 0 {
		if x[n.feature] < n.split {
			n = t.nodes[n.left]
		} else {
			n = t.nodes[n.right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// Score returns the anomaly score in (0, 1]; higher is more isolated.
func (f *IsolationForest) Score(x []float64) float64 {
	var total float64
	for i := range f.trees {
		total += f.trees[i].pathLength(x)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/averagePathLength(f.sampleSize))
}

// averagePathLength is the expected depth of an unsuccessful search in a
// binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// IsolationForestScorer refits a forest on every batch it is given. It keeps
// no state between calls.
type IsolationForestScorer struct {
	cfg       IsolationForestConfig
	extractor *FeatureExtractor
	logger    *slog.Logger
}

func NewIsolationForestScorer(cfg IsolationForestConfig, logger *slog.Logger) (*IsolationForestScorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultIsolationForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.Contamination == 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Contamination < 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", cfg.Contamination)
	}
	if len(cfg.Features) == 0 {
		cfg.Features = def.Features
	}

	extractor, err := NewFeatureExtractor(cfg.Features, cfg.Location)
	if err != nil {
		return nil, err
	}

	return &IsolationForestScorer{cfg: cfg, extractor: extractor, logger: logger}, nil
}

func (s *IsolationForestScorer) Score(ctx context.Context, txs []*domain.Transaction) []domain.AnomalyFlag {
	flags := make([]domain.AnomalyFlag, len(txs))

	if len(txs) < 2 {
		for i := range flags {
			flags[i] = domain.AnomalyFlag{Rationale: "batch too small to compare"}
		}
		return flags
	}

	rows := s.extractor.ExtractAll(txs)
	if !varies(rows) {
		for i := range flags {
			flags[i] = domain.AnomalyFlag{Rationale: "no variation in the batch"}
		}
		return flags
	}

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed))
	forest := FitIsolationForest(rows, s.cfg.Trees, s.cfg.SampleSize, rng)

	scores := make([]float64, len(rows))
	for i, x := range rows {
		scores[i] = forest.Score(x)
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-s.cfg.Contamination, stat.LinInterp, sorted, nil)

	amounts := make([]float64, len(txs))
	for i, tx := range txs {
		amounts[i] = tx.Amount.InexactFloat64()
	}
	mean, std := stat.MeanStdDev(amounts, nil)

	anomalies := 0
	for i, score := range scores {
		flag := domain.AnomalyFlag{Score: score}
		if score > threshold {
			flag.Anomalous = true
			anomalies++
			flag.Rationale = fmt.Sprintf("isolation score %.3f above batch threshold %.3f", score, threshold)
			if std > 0 {
				flag.Rationale += fmt.Sprintf("; amount is %.1f standard deviations from the batch mean", (amounts[i]-mean)/std)
			}
		} else {
			flag.Rationale = fmt.Sprintf("isolation score %.3f within batch threshold %.3f", score, threshold)
		}
		flags[i] = flag
	}

	s.logger.DebugContext(ctx, "Batch scored",
		slog.Int("transactions", len(txs)),
		slog.Int("anomalies", anomalies),
		slog.Float64("threshold", threshold))

	return flags
}

func varies(rows [][]float64) bool {
	for j := range rows[0] {
		for _, r := range rows[1:] {
			if r[j] != rows[0][j] {
				return true
			}
		}
	}
	return false
}
