package framework

import "github.com/nimbusbuild/orchestrator/internal/job"

const nextConfigPath = "next.config.js"

func nextFramework() Framework {
	return Framework{
		ID:               "next",
		SupportedTargets: []string{"static", "workers"},
		DefaultTarget:    "workers",
		AddedDependencies: map[string]string{
			"next": "latest",
		},
		AddedDevDependencies: map[string]string{
			"@opennextjs/cloudflare": "latest",
		},
		OutputsByTarget: map[string]Outputs{
			"static":  {AssetsDir: "out"},
			"workers": {AssetsDir: ".open-next/assets", WorkerEntry: ".open-next/worker.js"},
		},
		Detector: func(files []job.GeneratedFile, pkg map[string]any) bool {
			if hasDependency(pkg, "next") {
				return true
			}
			return hasFile(files, nextConfigPath) || hasFile(files, "next.config.mjs") || hasFile(files, "next.config.ts")
		},
		PromptRulesByTarget: map[string]string{
			"static":  "Generate a Next.js app using `output: \"export\"` for a fully static build. Avoid server-only APIs (no route handlers that require a server runtime).",
			"workers": "Generate a Next.js app deployable to Cloudflare Workers via @opennextjs/cloudflare. Server components and route handlers are fine; avoid Node-only APIs not supported on the edge runtime.",
		},
		PromptKeywords: []string{"next.js", "nextjs", "next app"},
		Normalizer:     normalizeNext,
	}
}

// normalizeNext replaces any present Next.js config with a canonical
// standalone-output config when the target is Next-on-workers, per
// spec.md §4.2's fileNormalizer description.
func normalizeNext(target string, files []job.GeneratedFile) []job.GeneratedFile {
	if target != "workers" {
		return files
	}
	canonical := job.GeneratedFile{
		Path: nextConfigPath,
		Content: "/** @type {import('next').NextConfig} */\n" +
			"const nextConfig = {\n" +
			"  output: \"standalone\",\n" +
			"};\n\n" +
			"module.exports = nextConfig;\n",
	}
	files = removeFiles(files, "next.config.mjs", "next.config.ts")
	return upsertFile(files, canonical)
}
