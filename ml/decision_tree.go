package ml

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"slices"
)

// RegressionTree is a CART regression tree stored as a flat node slice.
// Each leaf predicts the mean target of the training rows that reach it.
type RegressionTree struct {
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 means all features are considered at every split
	Seed            int64

	nodes     []TreeNode
	nFeatures int
}

// TreeNode 扁平存储的树节点
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

type treeState struct {
	NFeatures int        `json:"n_features"`
	Nodes     []TreeNode `json:"nodes"`
}

// TreeOption 回归树选项
type TreeOption func(*RegressionTree)

// WithMaxDepth 等函数设置回归树的超参数
func WithMaxDepth(d int) TreeOption        { return func(t *RegressionTree) { t.MaxDepth = d } }
func WithMinSamplesSplit(n int) TreeOption { return func(t *RegressionTree) { t.MinSamplesSplit = n } }
func WithMinSamplesLeaf(n int) TreeOption  { return func(t *RegressionTree) { t.MinSamplesLeaf = n } }
func WithMaxFeatures(k int) TreeOption     { return func(t *RegressionTree) { t.MaxFeatures = k } }
func WithSeed(seed int64) TreeOption       { return func(t *RegressionTree) { t.Seed = seed } }

// NewRegressionTree 创建回归树
func NewRegressionTree(opts ...TreeOption) *RegressionTree {
	t := &RegressionTree{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit 在全部样本上训练回归树
func (t *RegressionTree) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	return t.fitIndices(features, targets, idx)
}

// fitIndices grows the tree on the rows listed in idx. Repeated indices act
// as sample weights, which is how bootstrap samples are fed in.
func (t *RegressionTree) fitIndices(features [][]float64, targets []float64, idx []int) error {
	if len(idx) == 0 {
		return ErrEmptyDataset
	}
	if t.MinSamplesSplit < 2 {
		t.MinSamplesSplit = 2
	}
	if t.MinSamplesLeaf < 1 {
		t.MinSamplesLeaf = 1
	}
	t.nFeatures = len(features[0])
	t.nodes = make([]TreeNode, 0, 2*len(idx))
	rnd := rand.New(rand.NewSource(t.Seed))
	t.grow(features, targets, idx, 0, rnd)
	return nil
}

// Predict 预测单个样本
func (t *RegressionTree) Predict(features []float64) (float64, error) {
	if len(t.nodes) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != t.nFeatures {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrSchemaMismatch, t.nFeatures, len(features))
	}
	idx := 0
	for {
		node := t.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(t.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// NumFeatures 训练时的特征数
func (t *RegressionTree) NumFeatures() int {
	return t.nFeatures
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *RegressionTree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.nodes[i]
		if n.IsLeaf {
			return 0
		}
		return 1 + max(walk(n.LeftChild), walk(n.RightChild))
	}
	return walk(0)
}

// Save 将回归树写入文件
func (t *RegressionTree) Save(path string) error {
	if len(t.nodes) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(modelEnvelope{ModelType: ModelTypeDecisionTree, Tree: t.state()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// Load 从文件加载回归树
func (t *RegressionTree) Load(path string) error {
	env, err := readEnvelope(path, ModelTypeDecisionTree)
	if err != nil {
		return err
	}
	if env.Tree == nil {
		return fmt.Errorf("%w: %s: no tree", ErrArtifactMalformed, path)
	}
	return t.restore(*env.Tree)
}

func (t *RegressionTree) state() *treeState {
	return &treeState{NFeatures: t.nFeatures, Nodes: t.nodes}
}

func (t *RegressionTree) restore(s treeState) error {
	if len(s.Nodes) == 0 || s.NFeatures <= 0 {
		return fmt.Errorf("%w: empty tree", ErrArtifactMalformed)
	}
	for i, n := range s.Nodes {
		if n.IsLeaf {
			continue
		}
		if n.FeatureIdx < 0 || n.FeatureIdx >= s.NFeatures ||
			n.LeftChild <= i || n.LeftChild >= len(s.Nodes) ||
			n.RightChild <= i || n.RightChild >= len(s.Nodes) {
			return fmt.Errorf("%w: node %d is inconsistent", ErrArtifactMalformed, i)
		}
	}
	t.nodes = s.Nodes
	t.nFeatures = s.NFeatures
	return nil
}

func (t *RegressionTree) grow(features [][]float64, targets []float64, idx []int, depth int, rnd *rand.Rand) int {
	mean, sse := meanAndSSE(targets, idx)
	pos := len(t.nodes)
	t.nodes = append(t.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      mean,
		Samples:    len(idx),
		IsLeaf:     true,
	})

	if (t.MaxDepth > 0 && depth >= t.MaxDepth) ||
		len(idx) < t.MinSamplesSplit ||
		len(idx) < 2*t.MinSamplesLeaf ||
		sse <= 1e-12 {
		return pos
	}

	feature, threshold, ok := t.findBestSplit(features, targets, idx, sse, rnd)
	if !ok {
		return pos
	}
	left, right := splitIndices(features, idx, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return pos
	}

	leftPos := t.grow(features, targets, left, depth+1, rnd)
	rightPos := t.grow(features, targets, right, depth+1, rnd)
	t.nodes[pos] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  leftPos,
		RightChild: rightPos,
		Value:      mean,
		Samples:    len(idx),
	}
	return pos
}

// findBestSplit scans every candidate feature for the threshold with the
// lowest summed squared error of the two children.
func (t *RegressionTree) findBestSplit(features [][]float64, targets []float64, idx []int, parentSSE float64, rnd *rand.Rand) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestScore := parentSSE

	var total, totalSq float64
	for _, i := range idx {
		total += targets[i]
		totalSq += targets[i] * targets[i]
	}
	n := len(idx)
	sorted := make([]int, n)

	for _, f := range t.candidateFeatures(rnd) {
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(a, b int) int {
			return cmp.Compare(features[a][f], features[b][f])
		})

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			y := targets[sorted[k]]
			leftSum += y
			leftSq += y * y

			nl := k + 1
			nr := n - nl
			lo, hi := features[sorted[k]][f], features[sorted[k+1]][f]
			if lo == hi || nl < t.MinSamplesLeaf || nr < t.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if score < bestScore-1e-9 {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (t *RegressionTree) candidateFeatures(rnd *rand.Rand) []int {
	if t.MaxFeatures <= 0 || t.MaxFeatures >= t.nFeatures {
		all := make([]int, t.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rnd.Perm(t.nFeatures)[:t.MaxFeatures]
}

func splitIndices(features [][]float64, idx []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx)/2)
	right := make([]int, 0, len(idx)/2)
	for _, i := range idx {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func meanAndSSE(targets []float64, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	var sum float64
	for _, i := range idx {
		sum += targets[i]
	}
	mean := sum / float64(len(idx))
	var sse float64
	for _, i := range idx {
		d := targets[i] - mean
		sse += d * d
	}
	return mean, sse
}

func checkTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d contains a non-finite value", i)
			}
		}
	}
	for i, y := range targets {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return fmt.Errorf("target %d is not finite", i)
		}
	}
	return nil
}

func readEnvelope(path, wantType string) (*modelEnvelope, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelMissing, path)
	}
	if err != nil {
		return nil, err
	}
	var env modelEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, path, err)
	}
	if env.ModelType != wantType {
		return nil, fmt.Errorf("%w: %s holds %q, want %q", ErrArtifactMalformed, path, env.ModelType, wantType)
	}
	return &env, nil
}
