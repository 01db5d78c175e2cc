// Package analyze runs the per-package analysis pipeline: acquire the
// upstream package document, download its source, run every collector,
// evaluate the collected signals, and persist the result. It generalizes
// the teacher's cli/consumer.go processMessage/createProcessDocument/
// updateProcessDocument trio (state-routing plus CouchDB persistence with
// revision carry-through) into the five-stage pipeline spec.md §4.5
// describes, replacing its "append to history" semantics with a single
// replaced document per analysis.
package analyze

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/npms-io/npms-analyzer/collectors"
	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
	"github.com/npms-io/npms-analyzer/download"
	"github.com/npms-io/npms-analyzer/evaluate"
	"github.com/npms-io/npms-analyzer/registrydata"
	"github.com/npms-io/npms-analyzer/store"
)

// Pipeline holds everything a single analyze(name) call needs, threaded
// through explicitly rather than relying on ambient globals, per
// spec.md §9's "no ambient global besides the logger and the token pool"
// design note.
type Pipeline struct {
	Registry    *registrydata.Client
	Store       *store.Store
	Download    config.DownloadConfig
	BaseWorkDir string
}

// errPackageNotFound is the unrecoverable PACKAGE_NOT_FOUND condition
// spec.md §4.5 step 1 names explicitly.
var errPackageNotFound error = &common.Classified{Kind: common.KindUnrecoverable, Origin: "analyze", Reason: "PACKAGE_NOT_FOUND"}

// Analyze runs the full pipeline for one package name: acquire, download,
// collect, evaluate, persist, with cleanup and failure recording
// guaranteed regardless of where the pipeline stops.
func (p *Pipeline) Analyze(ctx context.Context, name string) error {
	startedAt := time.Now()
	workDir := filepath.Join(p.BaseWorkDir, sanitizeDirName(name))
	defer os.RemoveAll(workDir) // Cleanup: always remove the working directory, success or failure.

	manifest, packageDoc, err := p.acquire(ctx, name)
	if err != nil {
		if err == errPackageNotFound {
			_ = p.Store.Delete(ctx, analysisKey(name), currentRev(ctx, p.Store, name))
			return err
		}
		return p.recordFailure(ctx, name, startedAt, err)
	}

	result, err := download.Fetch(ctx, manifest, packageDoc, workDir, p.Download)
	dir := ""
	if err != nil && common.KindOf(err) != common.KindUnavailable {
		return p.recordFailure(ctx, name, startedAt, err)
	}
	if result != nil {
		manifest = result.Manifest
		dir = result.Dir
	}

	collected, err := collectors.Run(ctx, collectors.Input{
		Name:       name,
		Manifest:   manifest,
		PackageDoc: packageDoc,
		WorkDir:    dir,
	})
	if err != nil {
		return p.recordFailure(ctx, name, startedAt, err)
	}

	evaluation := evaluate.Evaluate(collected)

	return p.persist(ctx, name, startedAt, collected, evaluation, nil)
}

// acquire fetches the upstream package document and extracts the
// published manifest for its dist-tagged "latest" version
// (packageJsonFromData in spec.md §4.5 step 1).
func (p *Pipeline) acquire(ctx context.Context, name string) (manifest, packageDoc map[string]interface{}, err error) {
	raw, err := p.Registry.GetPackage(ctx, name)
	if err != nil {
		if common.KindOf(err) == common.KindUnrecoverable {
			return nil, nil, errPackageNotFound
		}
		return nil, nil, err
	}

	doc, err := store.RawDoc(raw)
	if err != nil {
		return nil, nil, common.Classify(common.KindUnrecoverable, "analyze", "malformed upstream package document", err)
	}

	manifest, err = packageJSONFromData(doc)
	if err != nil {
		return nil, nil, err
	}
	return manifest, doc, nil
}

// packageJSONFromData extracts the manifest for dist-tags.latest from a
// registry package document's versions map.
func packageJSONFromData(doc map[string]interface{}) (map[string]interface{}, error) {
	distTags, _ := doc["dist-tags"].(map[string]interface{})
	latest, _ := distTags["latest"].(string)
	if latest == "" {
		return nil, &common.Classified{Kind: common.KindUnrecoverable, Origin: "analyze", Reason: "no dist-tags.latest on package document"}
	}

	versions, _ := doc["versions"].(map[string]interface{})
	manifest, ok := versions[latest].(map[string]interface{})
	if !ok {
		return nil, &common.Classified{Kind: common.KindUnrecoverable, Origin: "analyze", Reason: "latest version missing from versions map"}
	}
	return manifest, nil
}

// persist writes {startedAt, finishedAt, collected, evaluation} to the
// analysis document, preserving rev if known, retrying once on write
// conflict via store.PutWithRetry (spec.md §4.5 step 5).
func (p *Pipeline) persist(ctx context.Context, name string, startedAt time.Time, collected collectors.Collected, evaluation evaluate.Evaluation, failure *store.AnalysisError) error {
	collectedMap, evaluationMap := toMaps(collected, evaluation)

	_, err := p.Store.PutWithRetry(ctx, analysisKey(name), func(rev string) (interface{}, error) {
		return &store.AnalysisDocument{
			ID:         analysisKey(name),
			Rev:        rev,
			Name:       name,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Collected:  collectedMap,
			Evaluation: evaluationMap,
			Error:      failure,
		}, nil
	})
	return err
}

// recordFailure persists a degraded document carrying the error and an
// evaluation derived from an empty collected stub, per spec.md §4.5 step 7,
// so the stale observer's view still sees a fresh timestamp for this
// package even though the analysis itself failed.
func (p *Pipeline) recordFailure(ctx context.Context, name string, startedAt time.Time, cause error) error {
	failure := &store.AnalysisError{
		Kind:     string(common.KindOf(cause)),
		Message:  cause.Error(),
		CaughtAt: time.Now(),
	}
	stub := collectors.Collected{}
	if err := p.persist(ctx, name, startedAt, stub, evaluate.Evaluate(stub), failure); err != nil {
		return err
	}
	return cause
}

// toMaps decodes collected/evaluation to plain maps and runs common.Compact
// over each, stripping the empty arrays/strings/nulls spec.md §9 says a
// persisted analysis document must never carry.
func toMaps(collected collectors.Collected, evaluation evaluate.Evaluation) (map[string]interface{}, map[string]interface{}) {
	collectedBytes, _ := json.Marshal(collected)
	evaluationBytes, _ := json.Marshal(evaluation)

	var collectedMap, evaluationMap map[string]interface{}
	_ = json.Unmarshal(collectedBytes, &collectedMap)
	_ = json.Unmarshal(evaluationBytes, &evaluationMap)

	collectedMap, _ = common.Compact(collectedMap).(map[string]interface{})
	evaluationMap, _ = common.Compact(evaluationMap).(map[string]interface{})
	return collectedMap, evaluationMap
}

func analysisKey(name string) string {
	return "analysis!" + name
}

func currentRev(ctx context.Context, s *store.Store, name string) string {
	var existing map[string]interface{}
	rev, err := s.Get(ctx, analysisKey(name), &existing)
	if err != nil {
		return ""
	}
	return rev
}

// sanitizeDirName strips path separators from a package name (scoped
// packages like "@npm/cli" contain a "/") so its working directory never
// escapes BaseWorkDir.
func sanitizeDirName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '\\' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
