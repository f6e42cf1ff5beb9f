package ner

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/straja-ai/medner/internal/redact"
)

// Span is a labeled byte range of the text passed to Find.
type Span struct {
	Label string
	Start int
	End   int
}

// SpanFinder finds labeled entity spans in text.
type SpanFinder interface {
	Find(text string) ([]Span, error)
}

// ModelConfig describes one token-classification model on disk.
type ModelConfig struct {
	Onnx         string            `yaml:"onnx"`
	TokenizerDir string            `yaml:"tokenizer_dir"`
	MaxTokens    int               `yaml:"max_tokens"`
	LowerCase    *bool             `yaml:"lower_case"`
	LabelAliases map[string]string `yaml:"label_aliases"`
}

// Model wraps a pool of ONNX sessions for one token-classification model.
type Model struct {
	id             string
	modelPath      string
	tokenizer      Tokenizer
	labels         []string
	numLabels      int
	seqLen         int
	aliases        map[string]string
	sessions       chan *modelSession
	poolSize       int
	needsTokenType bool
}

type modelSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// LoadModel initializes the tokenizer, labels and session pool for id.
func LoadModel(modelsDir, id string, cfg ModelConfig, rt RuntimeSettings) (*Model, error) {
	if strings.TrimSpace(cfg.Onnx) == "" {
		return nil, fmt.Errorf("%w: model %s has no onnx path", ErrModelUnavailable, id)
	}
	modelPath := resolvePath(modelsDir, cfg.Onnx)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model %s file missing at %s: %v", ErrModelUnavailable, id, modelPath, err)
	}
	if err := initEnvironment(modelsDir, rt); err != nil {
		return nil, err
	}

	modelDir := filepath.Dir(modelPath)
	meta, err := loadModelMeta(modelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s load config: %v", ErrModelUnavailable, id, err)
	}
	if len(meta.Labels) == 0 {
		return nil, fmt.Errorf("%w: model %s missing token labels", ErrModelUnavailable, id)
	}

	lower := true
	if meta.DoLower != nil {
		lower = *meta.DoLower
	}
	if cfg.LowerCase != nil {
		lower = *cfg.LowerCase
	}
	tokenizerDir := modelDir
	if strings.TrimSpace(cfg.TokenizerDir) != "" {
		tokenizerDir = resolvePath(modelsDir, cfg.TokenizerDir)
	}
	tokenizer, err := LoadTokenizerFromDir(tokenizerDir, lower)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s load tokenizer: %v", ErrModelUnavailable, id, err)
	}

	seqLen := cfg.MaxTokens
	if seqLen <= 0 {
		seqLen = defaultSeqLen
	}

	needsTokenType, outputName, outputDims, err := selectIOInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s io selection: %v", ErrModelUnavailable, id, err)
	}
	if debugML() {
		redact.Logf("ner debug ml: model=%s output_name=%s output_dims=%v token_type=%t", id, outputName, outputDims, needsTokenType)
	}

	numLabels := meta.NumLabels
	if len(outputDims) == 3 && outputDims[2] > 0 {
		numLabels = int(outputDims[2])
	}

	poolSize := rt.MaxSessions
	if poolSize <= 0 {
		poolSize = 1
	}
	m := &Model{
		id:             id,
		modelPath:      modelPath,
		tokenizer:      tokenizer,
		labels:         meta.Labels,
		numLabels:      numLabels,
		seqLen:         seqLen,
		aliases:        cfg.LabelAliases,
		sessions:       make(chan *modelSession, poolSize),
		poolSize:       poolSize,
		needsTokenType: needsTokenType,
	}
	for i := 0; i < poolSize; i++ {
		ss, err := newModelSession(modelPath, seqLen, numLabels, outputDims, rt, needsTokenType, outputName)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("%w: model %s create onnx session %d/%d: %v", ErrModelUnavailable, id, i+1, poolSize, err)
		}
		m.sessions <- ss
	}

	redact.Logf("ner: loaded model %s file=%s labels=%d max_tokens=%d sessions=%d", id, filepath.Base(modelPath), len(meta.Labels), seqLen, poolSize)
	return m, nil
}

// ID returns the registry id of the model.
func (m *Model) ID() string { return m.id }

// ModelFile returns the base name of the ONNX file.
func (m *Model) ModelFile() string { return filepath.Base(m.modelPath) }

// Find runs the model over text and returns merged entity spans ordered by
// start offset. Text longer than the model window is processed in chunks.
func (m *Model) Find(text string) ([]Span, error) {
	if m == nil || m.tokenizer == nil || m.sessions == nil {
		return nil, errors.New("ner model not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []Span
	for _, w := range splitWindows(m.tokenizer, text, m.seqLen) {
		part, err := m.runWindow(text[w.Start:w.End])
		if err != nil {
			return nil, err
		}
		for _, s := range part {
			s.Start += w.Start
			s.End += w.Start
			spans = append(spans, s)
		}
	}
	for i := range spans {
		spans[i].Label = aliasLabel(m.aliases, spans[i].Label)
	}
	return spans, nil
}

func (m *Model) runWindow(text string) ([]Span, error) {
	ss := <-m.sessions
	defer func() { m.sessions <- ss }()

	inputIDs, attn, offsets := m.tokenizer.EncodeWithOffsets(text, m.seqLen)
	if debugML() {
		logTokenization(m.id, m.seqLen, inputIDs, attn)
	}
	copy(ss.inputIDs.GetData(), inputIDs)
	copy(ss.attentionMask.GetData(), attn)
	if ss.tokenTypeIDs != nil {
		tokenTypes := ss.tokenTypeIDs.GetData()
		for i := range tokenTypes {
			tokenTypes[i] = 0
		}
	}

	if err := ss.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	return spansFromLogits(ss.output.GetData(), m.numLabels, m.labels, offsets), nil
}

// Close releases all sessions in the pool.
func (m *Model) Close() error {
	if m == nil || m.sessions == nil {
		return nil
	}
	var errs []error
	for {
		select {
		case ss := <-m.sessions:
			if err := ss.destroy(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func (ss *modelSession) destroy() error {
	var errs []error
	if ss.session != nil {
		errs = append(errs, ss.session.Destroy())
	}
	if ss.inputIDs != nil {
		errs = append(errs, ss.inputIDs.Destroy())
	}
	if ss.attentionMask != nil {
		errs = append(errs, ss.attentionMask.Destroy())
	}
	if ss.tokenTypeIDs != nil {
		errs = append(errs, ss.tokenTypeIDs.Destroy())
	}
	if ss.output != nil {
		errs = append(errs, ss.output.Destroy())
	}
	return errors.Join(errs...)
}

// spansFromLogits picks the best label per token and decodes BIO tags.
func spansFromLogits(logits []float32, numLabels int, labels []string, offsets []tokenOffset) []Span {
	if len(logits) == 0 || len(labels) == 0 || numLabels <= 0 {
		return nil
	}
	tokenLabels := make([]string, len(offsets))
	for i := range offsets {
		base := i * numLabels
		if base >= len(logits) {
			break
		}
		best := 0
		bestScore := float32(-math.MaxFloat32)
		for j := 0; j < numLabels && base+j < len(logits); j++ {
			if logits[base+j] > bestScore {
				best = j
				bestScore = logits[base+j]
			}
		}
		if best < len(labels) {
			tokenLabels[i] = labels[best]
		}
	}
	return spansFromTokenLabels(tokenLabels, offsets)
}

func spansFromTokenLabels(labels []string, offsets []tokenOffset) []Span {
	if len(labels) == 0 || len(offsets) == 0 {
		return nil
	}
	var spans []Span
	var cur *Span

	for i, lbl := range labels {
		if i >= len(offsets) {
			break
		}
		offset := offsets[i]
		if offset.Start < 0 || offset.End <= offset.Start {
			continue
		}
		prefix, typ := splitLabel(lbl)
		if typ == "" || strings.EqualFold(lbl, "O") {
			if cur != nil {
				spans = append(spans, *cur)
				cur = nil
			}
			continue
		}
		if prefix == "B" || prefix == "S" || cur == nil || !strings.EqualFold(cur.Label, typ) {
			if cur != nil {
				spans = append(spans, *cur)
			}
			cur = &Span{Label: typ, Start: offset.Start, End: offset.End}
			continue
		}
		if offset.End > cur.End {
			cur.End = offset.End
		}
	}
	if cur != nil {
		spans = append(spans, *cur)
	}
	return mergeSpans(spans)
}

func splitLabel(lbl string) (string, string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" {
		return "", ""
	}
	parts := strings.SplitN(lbl, "-", 2)
	if len(parts) == 1 {
		return "", lbl
	}
	return strings.ToUpper(parts[0]), parts[1]
}

// mergeSpans joins touching or overlapping spans of the same type, which is
// what sub-word pieces of one word tagged B-X, B-X look like.
func mergeSpans(in []Span) []Span {
	if len(in) == 0 {
		return nil
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Start == in[j].Start {
			return in[i].End < in[j].End
		}
		return in[i].Start < in[j].Start
	})
	out := make([]Span, 0, len(in))
	cur := in[0]
	for _, s := range in[1:] {
		if s.Start <= cur.End && strings.EqualFold(s.Label, cur.Label) {
			if s.End > cur.End {
				cur.End = s.End
			}
			continue
		}
		out = append(out, cur)
		cur = s
	}
	out = append(out, cur)
	return out
}

func aliasLabel(aliases map[string]string, label string) string {
	if len(aliases) == 0 {
		return label
	}
	if v, ok := aliases[label]; ok {
		return v
	}
	if v, ok := aliases[strings.ToUpper(label)]; ok {
		return v
	}
	return label
}

func resolvePath(baseDir, p string) string {
	p = filepath.FromSlash(strings.TrimSpace(p))
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

func newModelSession(modelPath string, seqLen, numLabels int, outputDims []int64, rt RuntimeSettings, includeTokenType bool, outputName string) (*modelSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(rt.IntraThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(rt.InterThreads); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	ss := &modelSession{}
	inputShape := ort.NewShape(1, int64(seqLen))
	if ss.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	if ss.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		_ = ss.destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	if includeTokenType {
		if ss.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
			_ = ss.destroy()
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
	}
	if ss.output, err = ort.NewEmptyTensor[float32](buildOutputShape(outputDims, seqLen, numLabels)); err != nil {
		_ = ss.destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{ss.inputIDs, ss.attentionMask}
	if ss.tokenTypeIDs != nil {
		inputNames = append(inputNames, "token_type_ids")
		inputValues = append(inputValues, ss.tokenTypeIDs)
	}
	if outputName == "" {
		outputName = "logits"
	}
	ss.session, err = ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{outputName},
		inputValues,
		[]ort.Value{ss.output},
		opts,
	)
	if err != nil {
		_ = ss.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return ss, nil
}

// selectIOInfo reports whether the graph takes token_type_ids and which
// output carries the per-token logits.
func selectIOInfo(modelPath string) (bool, string, []int64, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithOptions(modelPath, nil)
	if err != nil {
		return false, "", nil, err
	}
	needsTokenType := false
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			needsTokenType = true
		}
	}
	if len(outputs) == 0 {
		return false, "", nil, fmt.Errorf("no outputs found")
	}
	for _, out := range outputs {
		if strings.EqualFold(out.Name, "logits") {
			return needsTokenType, out.Name, out.Dimensions, nil
		}
	}
	if len(outputs) == 1 {
		return needsTokenType, outputs[0].Name, outputs[0].Dimensions, nil
	}
	names := make([]string, 0, len(outputs))
	for _, out := range outputs {
		names = append(names, out.Name)
	}
	return false, "", nil, fmt.Errorf("multiple outputs found without logits: %v", names)
}

// buildOutputShape resolves dynamic dims of a [batch, seq, labels] output.
func buildOutputShape(dims []int64, seqLen, numLabels int) ort.Shape {
	if len(dims) != 3 {
		return ort.NewShape(1, int64(seqLen), int64(numLabels))
	}
	shape := make([]int64, 3)
	for i, v := range dims {
		if v > 0 {
			shape[i] = v
			continue
		}
		switch i {
		case 0:
			shape[i] = 1
		case 1:
			shape[i] = int64(seqLen)
		case 2:
			shape[i] = int64(numLabels)
		}
	}
	return ort.Shape(shape)
}

func debugML() bool {
	return strings.TrimSpace(os.Getenv("MEDNER_DEBUG_ML")) == "1"
}

func logTokenization(modelID string, maxTokens int, inputIDs, attn []int64) {
	count := 0
	for _, v := range attn {
		if v > 0 {
			count++
		}
	}
	preview := inputIDs
	if len(preview) > 8 {
		preview = preview[:8]
	}
	redact.Logf("ner debug ml: model=%s max_tokens=%d token_count=%d first_ids=%v", modelID, maxTokens, count, preview)
}
