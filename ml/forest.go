package ml

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RandomForest averages regression trees fitted on bootstrap samples.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	RandomState     int64

	Trees     []*RegressionTree
	nFeatures int
}

type forestState struct {
	NEstimators int         `json:"n_estimators"`
	NFeatures   int         `json:"n_features"`
	Trees       []treeState `json:"trees"`
}

// RandomForestOption 随机森林选项
type RandomForestOption func(*RandomForest)

// WithNEstimators 等函数设置随机森林的超参数
func WithNEstimators(n int) RandomForestOption { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithBootstrap(b bool) RandomForestOption  { return func(rf *RandomForest) { rf.Bootstrap = b } }
func WithRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForest) { rf.RandomState = seed }
}
func WithTreeDepth(d int) RandomForestOption { return func(rf *RandomForest) { rf.MaxDepth = d } }
func WithLeafSize(n int) RandomForestOption  { return func(rf *RandomForest) { rf.MinSamplesLeaf = n } }
func WithSplitFeatures(k int) RandomForestOption {
	return func(rf *RandomForest) { rf.MaxFeatures = k }
}

// NewRandomForest 创建随机森林
func NewRandomForest(opts ...RandomForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		RandomState:     42,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit grows the trees concurrently. Tree i draws its bootstrap sample and
// split features from RandomState+i, so the fitted forest is the same for
// any scheduling.
func (rf *RandomForest) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	if rf.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", rf.NEstimators)
	}

	n := len(features)
	trees := make([]*RegressionTree, rf.NEstimators)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			seed := rf.RandomState + int64(i)
			treeRand := rand.New(rand.NewSource(seed))

			sample := make([]int, n)
			for j := range sample {
				if rf.Bootstrap {
					sample[j] = treeRand.Intn(n)
				} else {
					sample[j] = j
				}
			}

			tree := NewRegressionTree(
				WithMaxDepth(rf.MaxDepth),
				WithMinSamplesSplit(rf.MinSamplesSplit),
				WithMinSamplesLeaf(rf.MinSamplesLeaf),
				WithMaxFeatures(rf.MaxFeatures),
				WithSeed(seed),
			)
			if err := tree.fitIndices(features, targets, sample); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.nFeatures = len(features[0])
	return nil
}

// Predict returns the mean of the tree predictions.
func (rf *RandomForest) Predict(features []float64) (float64, error) {
	if len(rf.Trees) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != rf.nFeatures {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrSchemaMismatch, rf.nFeatures, len(features))
	}
	var sum float64
	for i, tree := range rf.Trees {
		v, err := tree.Predict(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += v
	}
	return sum / float64(len(rf.Trees)), nil
}

// NumFeatures 训练时的特征数
func (rf *RandomForest) NumFeatures() int {
	return rf.nFeatures
}

// Save 将随机森林写入文件
func (rf *RandomForest) Save(path string) error {
	if len(rf.Trees) == 0 {
		return ErrNotTrained
	}
	state := &forestState{
		NEstimators: len(rf.Trees),
		NFeatures:   rf.nFeatures,
		Trees:       make([]treeState, len(rf.Trees)),
	}
	for i, tree := range rf.Trees {
		state.Trees[i] = *tree.state()
	}
	payload, err := json.Marshal(modelEnvelope{ModelType: ModelTypeRandomForest, Forest: state})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// Load 从文件加载随机森林
func (rf *RandomForest) Load(path string) error {
	env, err := readEnvelope(path, ModelTypeRandomForest)
	if err != nil {
		return err
	}
	if env.Forest == nil || len(env.Forest.Trees) == 0 {
		return fmt.Errorf("%w: %s: no trees", ErrArtifactMalformed, path)
	}
	trees := make([]*RegressionTree, len(env.Forest.Trees))
	for i, s := range env.Forest.Trees {
		if s.NFeatures != env.Forest.NFeatures {
			return fmt.Errorf("%w: %s: tree %d has %d features, forest has %d",
				ErrArtifactMalformed, path, i, s.NFeatures, env.Forest.NFeatures)
		}
		tree := &RegressionTree{}
		if err := tree.restore(s); err != nil {
			return fmt.Errorf("%s: tree %d: %w", path, i, err)
		}
		trees[i] = tree
	}
	rf.Trees = trees
	rf.NEstimators = len(trees)
	rf.nFeatures = env.Forest.NFeatures
	return nil
}
