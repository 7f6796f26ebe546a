package transfer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// Mapper loads source checkpoints from Root and copies mapped parameter
// groups into a destination model.
type Mapper struct {
	Root   string
	Format checkpoints.CheckpointFormat
	Logger *zap.Logger
}

// NewMapper creates a mapper resolving spec sources under root.
func NewMapper(root string, format checkpoints.CheckpointFormat, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		Root:   root,
		Format: format,
		Logger: logger,
	}
}

// Report summarizes an applied transfer.
type Report struct {
	Source  string
	Copied  map[string]int // destination group -> parameters copied
	Skipped map[string][]string
}

// copyOp is one validated parameter copy.
type copyOp struct {
	dst  *tensor.Tensor
	data []float32
}

// Apply copies every mapped group from the source checkpoint into dst.
// All groups are validated before any parameter is written, so on error dst
// is left exactly as it was.
func (m *Mapper) Apply(dst Parameterized, spec Spec) (*Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	normalize, err := LookupNormalizer(spec.Fuzzy)
	if err != nil {
		return nil, err
	}

	var key checkpoints.Key = checkpoints.Final
	if spec.Epoch > 0 {
		key = checkpoints.Epoch(spec.Epoch)
	}

	sourceDir := filepath.Join(m.Root, spec.Source)
	state, err := checkpoints.NewStore(sourceDir, m.Format).Load(key)
	if err != nil {
		return nil, fmt.Errorf("transfer: failed to load source %s (%s): %w", spec.Source, key, err)
	}

	params := dst.Parameters()
	report := &Report{
		Source:  sourceDir,
		Copied:  make(map[string]int),
		Skipped: make(map[string][]string),
	}

	var ops []copyOp
	for _, group := range spec.destinationGroups() {
		groupOps, skipped, err := planGroup(group, spec.Mapping[group], state.Weights, params, spec, normalize)
		if err != nil {
			return nil, err
		}
		ops = append(ops, groupOps...)
		report.Copied[group] = len(groupOps)
		if len(skipped) > 0 {
			report.Skipped[group] = skipped
		}
	}

	for _, op := range ops {
		copy(op.dst.Data, op.data)
	}

	for _, group := range spec.destinationGroups() {
		m.Logger.Info("transferred parameter group",
			zap.String("group", group),
			zap.String("source_group", spec.Mapping[group]),
			zap.Int("copied", report.Copied[group]),
			zap.Int("skipped", len(report.Skipped[group])),
		)
	}
	return report, nil
}

// planGroup matches one (destination, source) group pair and returns the
// copies to perform plus the skipped source names.
func planGroup(
	dstGroup, srcGroup string,
	weights []checkpoints.WeightTensor,
	params map[string]*tensor.Tensor,
	spec Spec,
	normalize Normalizer,
) ([]copyOp, []string, error) {
	fail := func(sentinel error, param, detail string) error {
		return &GroupError{Group: dstGroup, Source: srcGroup, Param: param, Detail: detail, Err: sentinel}
	}

	// A missing group is a structural mismatch under strict, a missing name
	// otherwise.
	missing := ErrNameMissing
	if spec.Strict {
		missing = ErrShapeMismatch
	}

	src := make(map[string]checkpoints.WeightTensor)
	for _, w := range weights {
		if rel, ok := relative(w.Name, srcGroup); ok {
			src[rel] = w
		}
	}
	if len(src) == 0 {
		return nil, nil, fail(missing, "", "source group not found in checkpoint")
	}

	dst := make(map[string]*tensor.Tensor)
	for name, p := range params {
		if rel, ok := relative(name, dstGroup); ok {
			dst[rel] = p
		}
	}
	if len(dst) == 0 {
		return nil, nil, fail(missing, "", "destination group not found in model")
	}

	dstByKey := make(map[string]string, len(dst))
	for rel := range dst {
		key := normalize(rel)
		if other, dup := dstByKey[key]; dup {
			return nil, nil, fail(ErrAmbiguousName, rel, fmt.Sprintf("collides with %s in destination", other))
		}
		dstByKey[key] = rel
	}

	srcNames := make([]string, 0, len(src))
	for rel := range src {
		srcNames = append(srcNames, rel)
	}
	sort.Strings(srcNames)

	seen := make(map[string]string, len(src))
	var ops []copyOp
	var skipped []string
	for _, rel := range srcNames {
		w := src[rel]
		key := normalize(rel)
		if other, dup := seen[key]; dup {
			return nil, nil, fail(ErrAmbiguousName, rel, fmt.Sprintf("collides with %s in source", other))
		}
		seen[key] = rel

		dstRel, ok := dstByKey[key]
		if !ok {
			switch {
			case spec.Strict:
				return nil, nil, fail(ErrShapeMismatch, rel, "no counterpart in destination")
			case !spec.AllowPartial:
				return nil, nil, fail(ErrNameMissing, rel, "no counterpart in destination")
			}
			skipped = append(skipped, rel)
			continue
		}

		target := dst[dstRel]
		if !tensor.SameShape(target.Shape, w.Shape) {
			if spec.Strict || !spec.AllowPartial {
				return nil, nil, fail(ErrShapeMismatch, rel, fmt.Sprintf("source %v vs destination %v", w.Shape, target.Shape))
			}
			skipped = append(skipped, rel)
			continue
		}

		ops = append(ops, copyOp{dst: target, data: w.Data})
	}

	return ops, skipped, nil
}

// relative returns name relative to group when name lies in its subtree.
func relative(name, group string) (string, bool) {
	if name == group {
		return "", true
	}
	if strings.HasPrefix(name, group+".") {
		return name[len(group)+1:], true
	}
	return "", false
}

// Apply loads spec.Source under root in the default checkpoint format and
// copies the mapped groups into dst.
func Apply(dst Parameterized, spec Spec, root string) (*Report, error) {
	return NewMapper(root, checkpoints.FormatProto, nil).Apply(dst, spec)
}
