package framework

import (
	"encoding/json"

	"github.com/nimbusbuild/orchestrator/internal/job"
)

// findPackageJSON returns the parsed package.json file, if present.
func findPackageJSON(files []job.GeneratedFile) map[string]any {
	for _, f := range files {
		if f.Path == "package.json" {
			var doc map[string]any
			if err := json.Unmarshal([]byte(f.Content), &doc); err == nil {
				return doc
			}
			return nil
		}
	}
	return nil
}

// ParseNimbusConfig extracts the embedded nimbus.config.json descriptor
// from a generated file tree, per spec.md §3: a missing or unparseable
// file means "unspecified", represented as the zero job.NimbusConfig.
func ParseNimbusConfig(files []job.GeneratedFile) job.NimbusConfig {
	for _, f := range files {
		if f.Path != "nimbus.config.json" {
			continue
		}
		var cfg job.NimbusConfig
		if err := json.Unmarshal([]byte(f.Content), &cfg); err != nil {
			return job.NimbusConfig{}
		}
		return cfg
	}
	return job.NimbusConfig{}
}

// ResolveFramework implements spec.md §4.2's resolution order: explicit
// config wins, else the first detector match in registry order, else the
// static fallback.
func (r *Registry) ResolveFramework(explicit string, files []job.GeneratedFile) Framework {
	if explicit != "" {
		if f, ok := r.byID(explicit); ok {
			return f
		}
	}

	pkg := findPackageJSON(files)
	for _, f := range r.Frameworks {
		if f.Detector != nil && f.Detector(files, pkg) {
			return f
		}
	}
	return staticFallback()
}

// ResolveTarget implements spec.md §4.2's target resolution order: explicit
// config wins if supported, else the framework's default, with an optional
// prompt-keyword SSR/static override when the framework supports both.
func ResolveTarget(f Framework, explicit, prompt string) string {
	if explicit != "" && f.supportsTarget(explicit) {
		return explicit
	}
	if f.supportsTarget("static") && f.supportsTarget("workers") {
		switch {
		case lowerKeywordMatch(prompt, []string{"ssg", "prerender", "static site"}):
			return "static"
		case lowerKeywordMatch(prompt, []string{"ssr", "server-rendered", "full-stack"}):
			return "workers"
		}
	}
	return f.DefaultTarget
}
