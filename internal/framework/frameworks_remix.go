package framework

import "github.com/nimbusbuild/orchestrator/internal/job"

// remixFramework is the third registry entry supplementing spec.md's
// original Next/Astro pair (SPEC_FULL.md §4.2): it exercises the registry
// with a framework that supports only the "workers" target, so
// ResolveTarget's "explicit wins if supported" branch has a case where an
// unsupported explicit target must fall through to DefaultTarget.
func remixFramework() Framework {
	return Framework{
		ID:               "remix",
		SupportedTargets: []string{"workers"},
		DefaultTarget:    "workers",
		AddedDependencies: map[string]string{
			"@remix-run/cloudflare":       "latest",
			"@remix-run/cloudflare-pages": "latest",
			"@remix-run/react":            "latest",
		},
		AddedDevDependencies: map[string]string{
			"@remix-run/dev": "latest",
		},
		OutputsByTarget: map[string]Outputs{
			"workers": {AssetsDir: "public/build", WorkerEntry: "build/server/index.js"},
		},
		Detector: func(files []job.GeneratedFile, pkg map[string]any) bool {
			if hasDependency(pkg, "@remix-run/react") {
				return true
			}
			return hasFile(files, "remix.config.js") || hasFile(files, "app/root.tsx") || hasFile(files, "app/root.jsx")
		},
		PromptRulesByTarget: map[string]string{
			"workers": "Generate a Remix app targeting the Cloudflare Workers runtime via @remix-run/cloudflare. Use web-standard APIs only; avoid Node-only built-ins.",
		},
		PromptKeywords: []string{"remix"},
	}
}
