// Package framework implements the Framework Registry (C4, spec.md §4.2):
// detecting which web framework a generated file tree uses, resolving its
// deploy target, normalizing package.json/config files for the chosen
// target, and writing the canonical nimbus.config.json the sandbox and
// deploy drivers consume.
package framework

import (
	"strings"

	"github.com/nimbusbuild/orchestrator/internal/job"
)

// Outputs describes where the build artifacts live for one target.
type Outputs struct {
	AssetsDir   string
	WorkerEntry string
}

// Detector reports whether files (plus an optional parsed package.json)
// carry this framework's signature.
type Detector func(files []job.GeneratedFile, packageJSON map[string]any) bool

// FileNormalizer rewrites or adds framework config files for the chosen
// target. It receives the current file set and must return the updated
// set; implementations add or replace entries and may drop alternate
// config files that the canonical one supersedes (e.g. next.config.mjs).
type FileNormalizer func(target string, files []job.GeneratedFile) []job.GeneratedFile

// Framework is one entry in the registry.
type Framework struct {
	ID                   string
	SupportedTargets     []string
	DefaultTarget        string
	AddedDependencies    map[string]string
	AddedDevDependencies map[string]string
	OutputsByTarget      map[string]Outputs
	Detector             Detector
	PromptRulesByTarget  map[string]string
	PromptKeywords       []string
	Normalizer           FileNormalizer
}

func (f Framework) supportsTarget(target string) bool {
	for _, t := range f.SupportedTargets {
		if t == target {
			return true
		}
	}
	return false
}

// Registry holds frameworks in resolution order: the first Detector match
// wins, so order is significant (spec.md §4.2).
type Registry struct {
	Frameworks []Framework
}

// NewRegistry returns the registry with next, astro and remix in that
// order, per SPEC_FULL.md §4.2.
func NewRegistry() *Registry {
	return &Registry{
		Frameworks: []Framework{
			nextFramework(),
			astroFramework(),
			remixFramework(),
		},
	}
}

func (r *Registry) byID(id string) (Framework, bool) {
	for _, f := range r.Frameworks {
		if f.ID == id {
			return f, true
		}
	}
	return Framework{}, false
}

// staticFallback is the implicit "no framework" entry used when neither an
// explicit config.framework nor any detector matches.
func staticFallback() Framework {
	return Framework{
		ID:               "static",
		SupportedTargets: []string{"static"},
		DefaultTarget:    "static",
		OutputsByTarget: map[string]Outputs{
			"static": {},
		},
		PromptRulesByTarget: map[string]string{
			"static": "Generate a plain static site (HTML/CSS/JS). No build step is required.",
		},
	}
}

func lowerKeywordMatch(prompt string, keywords []string) bool {
	p := strings.ToLower(prompt)
	for _, k := range keywords {
		if strings.Contains(p, k) {
			return true
		}
	}
	return false
}
