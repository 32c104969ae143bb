package classifier

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/features"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// ErrModelNotTrained is returned when scoring or loading is attempted
// before any model has been trained and saved.
var ErrModelNotTrained = errors.New("model not trained")

// MinTrainingSamples is the smallest labeled set worth fitting on.
const MinTrainingSamples = 10

// FeatureColumns fixes the model input layout: the schema-v1 features a
// classifier may use, excluding temporal and label fields. Order matters;
// saved models record it and refuse mismatched vectors.
var FeatureColumns = []string{
	"exact_basename_match",
	"normalized_basename_match",
	"edit_distance",
	"fuzz_ratio",
	"same_folder",
	"parent_folder",
	"sibling_folder",
	"path_depth_difference",
	"common_ancestor_depth",
	"evidence_strength",
	"has_canonical_column_match",
	"column_header_similarity",
	"evidence_span_length",
	"date_token_agreement",
	"animal_id_agreement",
	"chamber_agreement",
	"context_mouse_id_match",
	"context_date_match",
	"context_channel_agreement",
	"context_explicit_reference",
	"context_confidence",
	"num_candidates_for_src",
	"num_candidates_for_dst",
	"violates_one_to_one",
	"dst_already_linked",
}

// Example is one labeled training row.
type Example struct {
	Vector *features.FeatureVector
	Label  string // accept or reject
}

// Metrics summarizes a trained model's test-set performance.
type Metrics struct {
	Accuracy           float64                   `json:"accuracy"`
	Precision          map[string]float64        `json:"precision"`
	Recall             map[string]float64        `json:"recall"`
	F1Score            map[string]float64        `json:"f1_score"`
	ConfusionMatrix    map[string]map[string]int `json:"confusion_matrix"`
	FeatureImportances map[string]float64        `json:"feature_importances"`
	TrainingSamples    int                       `json:"training_samples"`
	TestSamples        int                       `json:"test_samples"`
	TrainedAt          time.Time                 `json:"trained_at"`
}

// Config controls training.
type Config struct {
	TestSplit  float64
	RandomSeed int64
	UseForest  bool
	NumTrees   int
	MaxDepth   int
}

// DefaultConfig mirrors the stock trainer settings.
func DefaultConfig() Config {
	return Config{TestSplit: 0.2, RandomSeed: 42, NumTrees: 25, MaxDepth: 8}
}

// model is the JSON-persisted trained artifact.
type model struct {
	SchemaVersion  int           `json:"schema_version"`
	FeatureColumns []string      `json:"feature_columns"`
	UseForest      bool          `json:"use_forest"`
	Tree           *DecisionTree `json:"tree,omitempty"`
	Forest         *RandomForest `json:"forest,omitempty"`
	Metrics        *Metrics      `json:"metrics"`
}

// Trainer fits, persists and applies link classifiers.
type Trainer struct {
	config    Config
	modelPath string
	model     *model
}

// NewTrainer builds a trainer persisting to modelPath.
func NewTrainer(config Config, modelPath string) *Trainer {
	if config.TestSplit <= 0 || config.TestSplit >= 1 {
		config.TestSplit = 0.2
	}
	return &Trainer{config: config, modelPath: modelPath}
}

// Train fits a model on the labeled examples, evaluates it on a held-out
// stratified split, and persists the result.
func (t *Trainer) Train(examples []Example) (*Metrics, error) {
	if len(examples) < MinTrainingSamples {
		return nil, fmt.Errorf("need at least %d labeled examples, got %d", MinTrainingSamples, len(examples))
	}
	log := logging.Get(logging.CategoryClassifier)
	timer := log.StartTimer("train")
	defer timer.Stop()

	X := make([][]float64, len(examples))
	y := make([]string, len(examples))
	for i, ex := range examples {
		X[i] = Row(ex.Vector)
		y[i] = ex.Label
	}

	trainIdx, testIdx := stratifiedSplit(y, t.config.TestSplit, t.config.RandomSeed)
	trainX, trainY := subset(X, y, trainIdx)
	testX, testY := subset(X, y, testIdx)

	m := &model{
		SchemaVersion:  features.SchemaVersion,
		FeatureColumns: FeatureColumns,
		UseForest:      t.config.UseForest,
	}

	var importances []float64
	var predict func(x []float64) (string, float64, error)
	if t.config.UseForest {
		forest := NewRandomForest(t.config.NumTrees, t.config.MaxDepth, t.config.RandomSeed)
		if err := forest.Fit(trainX, trainY); err != nil {
			return nil, fmt.Errorf("forest training failed: %w", err)
		}
		m.Forest = forest
		importances = forest.FeatureImportances()
		predict = forest.Predict
	} else {
		tree := NewDecisionTree(t.config.MaxDepth)
		if err := tree.Fit(trainX, trainY); err != nil {
			return nil, fmt.Errorf("tree training failed: %w", err)
		}
		m.Tree = tree
		importances = tree.FeatureImportances()
		predict = tree.Predict
	}

	metrics, err := evaluate(predict, testX, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	metrics.FeatureImportances = make(map[string]float64, len(FeatureColumns))
	for i, name := range FeatureColumns {
		if importances[i] > 0 {
			metrics.FeatureImportances[name] = importances[i]
		}
	}
	metrics.TrainingSamples = len(trainIdx)
	metrics.TestSamples = len(testIdx)
	metrics.TrainedAt = time.Now().UTC()
	m.Metrics = metrics

	if err := t.save(m); err != nil {
		return nil, err
	}
	t.model = m

	log.Info("trained on %d samples (%d test): accuracy %.3f",
		metrics.TrainingSamples, metrics.TestSamples, metrics.Accuracy)
	return metrics, nil
}

// Load reads the persisted model. Returns ErrModelNotTrained when no
// model file exists.
func (t *Trainer) Load() error {
	data, err := os.ReadFile(t.modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrModelNotTrained
		}
		return fmt.Errorf("failed to read model: %w", err)
	}
	var m model
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse model: %w", err)
	}
	if m.SchemaVersion != features.SchemaVersion {
		return fmt.Errorf("model schema version %d does not match current %d", m.SchemaVersion, features.SchemaVersion)
	}
	t.model = &m
	return nil
}

// Trained reports whether a model is loaded and usable.
func (t *Trainer) Trained() bool {
	return t != nil && t.model != nil
}

// ModelMetrics returns the persisted metrics of the loaded model.
func (t *Trainer) ModelMetrics() (*Metrics, error) {
	if !t.Trained() {
		return nil, ErrModelNotTrained
	}
	return t.model.Metrics, nil
}

// Predict classifies one feature vector.
func (t *Trainer) Predict(v *features.FeatureVector) (string, float64, error) {
	if !t.Trained() {
		return "", 0, ErrModelNotTrained
	}
	x := Row(v)
	if t.model.UseForest {
		return t.model.Forest.Predict(x)
	}
	return t.model.Tree.Predict(x)
}

// ScoreWithModel scores a candidate with the trained model, producing the
// same explainable shape as the soft scorer. The breakdown weights are
// feature importances; entries sort by absolute contribution, top 10.
func (t *Trainer) ScoreWithModel(v *features.FeatureVector) (types.SoftScore, error) {
	label, proba, err := t.Predict(v)
	if err != nil {
		return types.SoftScore{}, err
	}

	total := proba
	if label == "reject" {
		total = 1 - proba
	}

	var importances map[string]float64
	if t.model.Metrics != nil {
		importances = t.model.Metrics.FeatureImportances
	}

	var breakdown []types.ScoreContribution
	for _, name := range FeatureColumns {
		imp := importances[name]
		if imp == 0 {
			continue
		}
		value := v.Get(name)
		if value == 0 {
			continue
		}
		normalized := value
		if name == "fuzz_ratio" {
			normalized = value / 100
		}
		breakdown = append(breakdown, types.ScoreContribution{
			Feature:      name,
			Value:        value,
			Weight:       imp,
			Contribution: normalized * imp,
		})
	}
	sort.SliceStable(breakdown, func(i, j int) bool {
		return math.Abs(breakdown[i].Contribution) > math.Abs(breakdown[j].Contribution)
	})
	if len(breakdown) > 10 {
		breakdown = breakdown[:10]
	}

	return types.SoftScore{
		Total:     total,
		Breakdown: breakdown,
		Flags:     []string{"ml_scored"},
	}, nil
}

// ExportTrainingSet writes the labeled examples as CSV: the feature
// columns plus a trailing label column.
func ExportTrainingSet(path string, examples []Example) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string{}, FeatureColumns...), "label")
	if err := w.Write(header); err != nil {
		return err
	}
	for _, ex := range examples {
		row := Row(ex.Vector)
		record := make([]string, 0, len(row)+1)
		for _, val := range row {
			record = append(record, strconv.FormatFloat(val, 'g', -1, 64))
		}
		record = append(record, ex.Label)
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Row projects a feature vector onto the model input layout.
func Row(v *features.FeatureVector) []float64 {
	row := make([]float64, len(FeatureColumns))
	for i, name := range FeatureColumns {
		row[i] = v.Get(name)
	}
	return row
}

func (t *Trainer) save(m *model) error {
	if err := os.MkdirAll(filepath.Dir(t.modelPath), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(t.modelPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	// Metrics also land next to the model for quick inspection.
	if m.Metrics != nil {
		infoPath := t.modelPath[:len(t.modelPath)-len(filepath.Ext(t.modelPath))] + "_info.json"
		if info, err := json.MarshalIndent(m.Metrics, "", "  "); err == nil {
			_ = os.WriteFile(infoPath, info, 0o644)
		}
	}
	return nil
}

// stratifiedSplit shuffles per class and carves off testSplit of each.
func stratifiedSplit(y []string, testSplit float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	byClass := make(map[string][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	for _, c := range classes {
		indices := byClass[c]
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTest := int(float64(len(indices)) * testSplit)
		if nTest == 0 && len(indices) > 1 {
			nTest = 1
		}
		test = append(test, indices[:nTest]...)
		train = append(train, indices[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func subset(X [][]float64, y []string, indices []int) ([][]float64, []string) {
	outX := make([][]float64, len(indices))
	outY := make([]string, len(indices))
	for i, idx := range indices {
		outX[i] = X[idx]
		outY[i] = y[idx]
	}
	return outX, outY
}

// evaluate computes accuracy, per-class precision/recall/F1 and the
// confusion matrix on the test set.
func evaluate(predict func([]float64) (string, float64, error), X [][]float64, y []string) (*Metrics, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("empty test set")
	}

	m := &Metrics{
		Precision:       make(map[string]float64),
		Recall:          make(map[string]float64),
		F1Score:         make(map[string]float64),
		ConfusionMatrix: make(map[string]map[string]int),
	}

	correct := 0
	preds := make([]string, len(X))
	for i, x := range X {
		pred, _, err := predict(x)
		if err != nil {
			return nil, fmt.Errorf("prediction failed at index %d: %w", i, err)
		}
		preds[i] = pred
		if pred == y[i] {
			correct++
		}
		if m.ConfusionMatrix[y[i]] == nil {
			m.ConfusionMatrix[y[i]] = make(map[string]int)
		}
		m.ConfusionMatrix[y[i]][pred]++
	}
	m.Accuracy = float64(correct) / float64(len(X))

	for _, class := range uniqueClasses(y) {
		tp, fp, fn := 0, 0, 0
		for i := range y {
			switch {
			case y[i] == class && preds[i] == class:
				tp++
			case y[i] != class && preds[i] == class:
				fp++
			case y[i] == class && preds[i] != class:
				fn++
			}
		}
		precision, recall := 0.0, 0.0
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			recall = float64(tp) / float64(tp+fn)
		}
		m.Precision[class] = precision
		m.Recall[class] = recall
		if precision+recall > 0 {
			m.F1Score[class] = 2 * precision * recall / (precision + recall)
		} else {
			m.F1Score[class] = 0
		}
	}
	return m, nil
}
