package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"
)

var (
	ErrNoTrainingData  = errors.New("no training data")
	ErrFeatureMismatch = errors.New("feature vector does not match the model")
)

type Sample struct {
	Features []float64
	Label    string
}

type RandomForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	Seed            uint64
}

func DefaultRandomForestConfig() RandomForestConfig {
	return RandomForestConfig{
		Trees:           100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// Node is one entry of a flattened decision tree. Leaves have Feature == -1
// and carry the predicted class index.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Class     int     `json:"c,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) int {
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Class
}

// RandomForest is a bagged ensemble of CART trees split on Gini impurity.
type RandomForest struct {
	Features  []string  `json:"features"`
	Classes   []string  `json:"classes"`
	Trees     []Tree    `json:"trees"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at"`
}

// Predict returns the majority vote of the trees. Ties go to the class that
// sorts first. Inputs outside the training range are still classified.
func (f *RandomForest) Predict(x []float64) (string, error) {
	if len(x) != len(f.Features) {
		return "", fmt.Errorf("%w: got %d values, want %d", ErrFeatureMismatch, len(x), len(f.Features))
	}

	votes := make([]int, len(f.Classes))
	for i := range f.Trees {
		votes[f.Trees[i].predict(x)]++
	}

	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return f.Classes[best], nil
}

// validate checks every index a tree walk can follow. Children must sit after
// their parent, which also rules out cycles.
func (f *RandomForest) validate() error {
	if len(f.Trees) == 0 || len(f.Classes) == 0 || len(f.Features) == 0 {
		return errors.New("empty model")
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", t)
		}
		for i, n := range tree.Nodes {
			switch {
			case n.Feature == -1:
				if n.Class < 0 || n.Class >= len(f.Classes) {
					return fmt.Errorf("tree %d node %d: class %d out of range", t, i, n.Class)
				}
			case n.Feature < 0 || n.Feature >= len(f.Features):
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, i, n.Feature)
			case n.Left <= i || n.Left >= len(tree.Nodes), n.Right <= i || n.Right >= len(tree.Nodes):
				return fmt.Errorf("tree %d node %d: child index out of range", t, i)
			}
		}
	}
	return nil
}

func TrainRandomForest(samples []Sample, features []string, cfg RandomForestConfig) (*RandomForest, error) {
	if len(samples) == 0 {
		return nil, ErrNoTrainingData
	}
	for i, s := range samples {
		if len(s.Features) != len(features) {
			return nil, fmt.Errorf("%w: sample %d has %d values, want %d", ErrFeatureMismatch, i, len(s.Features), len(features))
		}
	}

	def := DefaultRandomForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = def.MinSamplesSplit
	}

	classes := make([]string, 0)
	for _, s := range samples {
		if !slices.Contains(classes, s.Label) {
			classes = append(classes, s.Label)
		}
	}
	sort.Strings(classes)

	b := &treeBuilder{
		x:        make([][]float64, len(samples)),
		y:        make([]int, len(samples)),
		classes:  len(classes),
		mtry:     max(1, int(math.Sqrt(float64(len(features))))),
		maxDepth: cfg.MaxDepth,
		minSplit: cfg.MinSamplesSplit,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	}
	for i, s := range samples {
		b.x[i] = s.Features
		b.y[i], _ = slices.BinarySearch(classes, s.Label)
	}

	forest := &RandomForest{
		Features:  append([]string(nil), features...),
		Classes:   classes,
		Trees:     make([]Tree, cfg.Trees),
		Samples:   len(samples),
		TrainedAt: time.Now().UTC(),
	}
	n := len(samples)
	for t := range forest.Trees {
		boot := make([]int, n)
		for i := range boot {
			boot[i] = b.rng.IntN(n)
		}
		tree := Tree{}
		b.grow(&tree, boot, 0)
		forest.Trees[t] = tree
	}

	return forest, nil
}

type treeBuilder struct {
	x        [][]float64
	y        []int
	classes  int
	mtry     int
	maxDepth int
	minSplit int
	rng      *rand.Rand
}

func (b *treeBuilder) grow(t *Tree, idx []int, depth int) int {
	pos := len(t.Nodes)
	counts := b.counts(idx)
	t.Nodes = append(t.Nodes, Node{Feature: -1, Class: majority(counts)})

	if len(idx) < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) || gini(counts, len(idx)) == 0 {
		return pos
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return pos
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.Nodes[pos] = Node{Feature: feature, Threshold: threshold}
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[pos].Left, t.Nodes[pos].Right = l, r
	return pos
}

// bestSplit draws mtry features and keeps the split with the lowest weighted
// Gini impurity. When none of the drawn features can separate the node, the
// remaining features are tried before giving up.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	order := b.rng.Perm(len(b.x[0]))

	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)

	for k, feature := range order {
		if k >= b.mtry && bestFeature >= 0 {
			break
		}
		threshold, impurity, ok := b.splitOn(idx, feature)
		if ok && impurity < bestImpurity {
			bestFeature, bestThreshold, bestImpurity = feature, threshold, impurity
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func (b *treeBuilder) splitOn(idx []int, feature int) (float64, float64, bool) {
	sorted := append([]int(nil), idx...)
	sort.Slice(sorted, func(i, j int) bool {
		return b.x[sorted[i]][feature] < b.x[sorted[j]][feature]
	})

	right := b.counts(sorted)
	left := make([]int, b.classes)
	n := len(sorted)

	bestThreshold, bestImpurity, found := 0.0, math.Inf(1), false
	for i := 0; i < n-1; i++ {
		c := b.y[sorted[i]]
		left[c]++
		right[c]--

		cur, next := b.x[sorted[i]][feature], b.x[sorted[i+1]][feature]
		if cur == next {
			continue
		}

		nl, nr := i+1, n-i-1
		impurity := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
		if impurity < bestImpurity {
			bestThreshold, bestImpurity, found = cur+(next-cur)/2, impurity, true
		}
	}
	return bestThreshold, bestImpurity, found
}

func (b *treeBuilder) counts(idx []int) []int {
	c := make([]int, b.classes)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func majority(counts []int) int {
	best := 0
	for c := 1; c < len(counts); c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
