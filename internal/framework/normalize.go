package framework

import (
	"encoding/json"

	"github.com/nimbusbuild/orchestrator/internal/job"
)

const nimbusConfigPath = "nimbus.config.json"

// Normalize implements spec.md §4.2's "Normalization" step: merge the
// framework's dependencies into package.json (if present), run the
// framework's FileNormalizer, and write the canonical nimbus.config.json.
// It is idempotent: running it twice on its own output produces the same
// file set.
func Normalize(f Framework, target string, files []job.GeneratedFile) ([]job.GeneratedFile, job.NimbusConfig, error) {
	out := make([]job.GeneratedFile, len(files))
	copy(out, files)

	out = mergePackageJSON(f, out)

	if f.Normalizer != nil {
		out = f.Normalizer(target, out)
	}

	outputs := f.OutputsByTarget[target]
	cfg := job.NimbusConfig{
		Framework:   f.ID,
		Target:      target,
		AssetsDir:   outputs.AssetsDir,
		WorkerEntry: outputs.WorkerEntry,
	}

	cfgBytes, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, job.NimbusConfig{}, err
	}
	cfgBytes = append(cfgBytes, '\n')

	out = upsertFile(out, job.GeneratedFile{Path: nimbusConfigPath, Content: string(cfgBytes)})

	return out, cfg, nil
}

// mergePackageJSON merges f's AddedDependencies/AddedDevDependencies into
// an existing package.json, preserving any entries already present. A
// missing package.json means no dependency injection happens (spec.md
// §4.2).
func mergePackageJSON(f Framework, files []job.GeneratedFile) []job.GeneratedFile {
	if len(f.AddedDependencies) == 0 && len(f.AddedDevDependencies) == 0 {
		return files
	}

	idx := -1
	for i, file := range files {
		if file.Path == "package.json" {
			idx = i
			break
		}
	}
	if idx == -1 {
		return files
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(files[idx].Content), &doc); err != nil {
		return files
	}

	mergeStringMap(&doc, "dependencies", f.AddedDependencies)
	mergeStringMap(&doc, "devDependencies", f.AddedDevDependencies)

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return files
	}
	b = append(b, '\n')

	files[idx].Content = string(b)
	return files
}

func mergeStringMap(doc *map[string]any, key string, add map[string]string) {
	if len(add) == 0 {
		return
	}
	existing, _ := (*doc)[key].(map[string]any)
	if existing == nil {
		existing = make(map[string]any, len(add))
	}
	for k, v := range add {
		if _, present := existing[k]; !present {
			existing[k] = v
		}
	}
	(*doc)[key] = existing
}

// upsertFile replaces the file at path if present, else appends it.
func upsertFile(files []job.GeneratedFile, f job.GeneratedFile) []job.GeneratedFile {
	for i, existing := range files {
		if existing.Path == f.Path {
			files[i] = f
			return files
		}
	}
	return append(files, f)
}
