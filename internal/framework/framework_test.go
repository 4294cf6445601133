package framework

import (
	"testing"

	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/stretchr/testify/require"
)

func TestResolveFramework_ExplicitConfigWins(t *testing.T) {
	r := NewRegistry()
	files := []job.GeneratedFile{
		{Path: "astro.config.mjs", Content: "export default {}"},
	}
	f := r.ResolveFramework("remix", files)
	require.Equal(t, "remix", f.ID)
}

func TestResolveFramework_FirstDetectorWinsInRegistryOrder(t *testing.T) {
	r := NewRegistry()
	files := []job.GeneratedFile{
		{Path: "package.json", Content: `{"dependencies":{"next":"14.0.0","astro":"4.0.0"}}`},
	}
	f := r.ResolveFramework("", files)
	require.Equal(t, "next", f.ID, "next is registered before astro, so it must win when both match")
}

func TestResolveFramework_FallsBackToStatic(t *testing.T) {
	r := NewRegistry()
	files := []job.GeneratedFile{{Path: "index.html", Content: "<html></html>"}}
	f := r.ResolveFramework("", files)
	require.Equal(t, "static", f.ID)
}

func TestParseNimbusConfig_MissingFileIsUnspecified(t *testing.T) {
	files := []job.GeneratedFile{{Path: "index.html", Content: "<html></html>"}}
	cfg := ParseNimbusConfig(files)
	require.Equal(t, job.NimbusConfig{}, cfg)
}

func TestParseNimbusConfig_UnparseableFileIsUnspecified(t *testing.T) {
	files := []job.GeneratedFile{{Path: "nimbus.config.json", Content: "not json"}}
	cfg := ParseNimbusConfig(files)
	require.Equal(t, job.NimbusConfig{}, cfg)
}

func TestParseNimbusConfig_ExplicitFrameworkFeedsResolveFramework(t *testing.T) {
	r := NewRegistry()
	files := []job.GeneratedFile{
		{Path: "package.json", Content: `{"dependencies":{"astro":"4.0.0"}}`},
		{Path: "nimbus.config.json", Content: `{"framework":"next","target":"workers"}`},
	}
	cfg := ParseNimbusConfig(files)
	f := r.ResolveFramework(cfg.Framework, files)
	require.Equal(t, "next", f.ID, "explicit nimbus.config.json must win over the astro detection hint")
	require.Equal(t, "workers", ResolveTarget(f, cfg.Target, ""))
}

func TestResolveTarget_UnsupportedExplicitFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	remix, _ := r.byID("remix")
	target := ResolveTarget(remix, "static", "")
	require.Equal(t, "workers", target, "remix has no static target, so explicit=static must fall through")
}

func TestResolveTarget_PromptKeywordsOverrideDefault(t *testing.T) {
	r := NewRegistry()
	astro, _ := r.byID("astro")
	require.Equal(t, "static", astro.DefaultTarget)

	require.Equal(t, "workers", ResolveTarget(astro, "", "I want a full-stack SSR app"))
	require.Equal(t, "static", ResolveTarget(astro, "", "a simple prerendered static site"))
}

func TestNormalize_IsIdempotent(t *testing.T) {
	r := NewRegistry()
	f, _ := r.byID("next")
	files := []job.GeneratedFile{
		{Path: "package.json", Content: `{"name":"app","dependencies":{"react":"18.0.0"}}`},
	}

	once, cfg, err := Normalize(f, "workers", files)
	require.NoError(t, err)
	require.Equal(t, "next", cfg.Framework)
	require.Equal(t, "workers", cfg.Target)

	twice, _, err := Normalize(f, "workers", once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestNormalize_MergesDependenciesPreservingExisting(t *testing.T) {
	r := NewRegistry()
	f, _ := r.byID("astro")
	files := []job.GeneratedFile{
		{Path: "package.json", Content: `{"name":"app","dependencies":{"astro":"3.0.0"}}`},
	}

	out, _, err := Normalize(f, "static", files)
	require.NoError(t, err)

	pkg := findPackageJSON(out)
	deps, _ := pkg["dependencies"].(map[string]any)
	require.Equal(t, "3.0.0", deps["astro"], "existing version must be preserved, not overwritten")
}

func TestNormalize_SkipsDependencyInjectionWhenNoPackageJSON(t *testing.T) {
	r := NewRegistry()
	f, _ := r.byID("astro")
	files := []job.GeneratedFile{{Path: "index.html", Content: "<html></html>"}}

	out, _, err := Normalize(f, "static", files)
	require.NoError(t, err)
	require.False(t, hasFile(out, "package.json"))
}

func TestPromptRules_NoMatchYieldsGenericStaticRule(t *testing.T) {
	r := NewRegistry()
	rules := r.PromptRules("build me a todo app")
	require.Contains(t, rules, genericStaticRule)
}

func TestPromptRules_MatchesFrameworkKeyword(t *testing.T) {
	r := NewRegistry()
	rules := r.PromptRules("build a remix app")
	require.Contains(t, rules, "Remix")
	require.Contains(t, rules, commonPromptRules)
}
