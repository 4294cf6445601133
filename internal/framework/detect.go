package framework

import "github.com/nimbusbuild/orchestrator/internal/job"

func hasFile(files []job.GeneratedFile, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}

func hasDependency(pkg map[string]any, name string) bool {
	if pkg == nil {
		return false
	}
	if deps, ok := pkg["dependencies"].(map[string]any); ok {
		if _, present := deps[name]; present {
			return true
		}
	}
	if deps, ok := pkg["devDependencies"].(map[string]any); ok {
		if _, present := deps[name]; present {
			return true
		}
	}
	return false
}

func removeFiles(files []job.GeneratedFile, paths ...string) []job.GeneratedFile {
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[p] = true
	}
	out := files[:0]
	for _, f := range files {
		if !drop[f.Path] {
			out = append(out, f)
		}
	}
	return out
}
