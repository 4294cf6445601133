package framework

import "github.com/nimbusbuild/orchestrator/internal/job"

const astroConfigPath = "astro.config.mjs"

func astroFramework() Framework {
	return Framework{
		ID:               "astro",
		SupportedTargets: []string{"static", "workers"},
		DefaultTarget:    "static",
		AddedDependencies: map[string]string{
			"astro": "latest",
		},
		AddedDevDependencies: map[string]string{
			"@astrojs/cloudflare": "latest",
		},
		OutputsByTarget: map[string]Outputs{
			"static":  {AssetsDir: "dist"},
			"workers": {AssetsDir: "dist/client", WorkerEntry: "dist/_worker.js/index.js"},
		},
		Detector: func(files []job.GeneratedFile, pkg map[string]any) bool {
			if hasDependency(pkg, "astro") {
				return true
			}
			return hasFile(files, astroConfigPath) || hasFile(files, "astro.config.ts")
		},
		PromptRulesByTarget: map[string]string{
			"static":  "Generate an Astro site with `output: \"static\"`. Prefer Astro components and islands for interactivity.",
			"workers": "Generate an Astro site with `output: \"server\"` and the `@astrojs/cloudflare` adapter for deployment to Cloudflare Workers.",
		},
		PromptKeywords: []string{"astro"},
		Normalizer:     normalizeAstro,
	}
}

// normalizeAstro ensures an SSR adapter and output mode are configured when
// the target is Astro-on-workers, per spec.md §4.2's fileNormalizer
// description. Static target is left as generated.
func normalizeAstro(target string, files []job.GeneratedFile) []job.GeneratedFile {
	if target != "workers" {
		return files
	}
	canonical := job.GeneratedFile{
		Path: astroConfigPath,
		Content: "import { defineConfig } from 'astro/config';\n" +
			"import cloudflare from '@astrojs/cloudflare';\n\n" +
			"export default defineConfig({\n" +
			"  output: 'server',\n" +
			"  adapter: cloudflare(),\n" +
			"});\n",
	}
	files = removeFiles(files, "astro.config.ts")
	return upsertFile(files, canonical)
}
