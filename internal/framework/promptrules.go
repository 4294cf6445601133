package framework

const commonPromptRules = "Use real published package versions or \"latest\"; do not invent version numbers."

const genericStaticRule = "Generate a plain static site (HTML/CSS/JS). No build step is required."

// PromptRules implements spec.md §4.2's "Prompt synthesis": scan the
// lower-cased prompt for each framework's PromptKeywords, in registry
// order, and return the matched framework's rules for its resolved target
// joined with the common rules block. No match yields a generic
// static-site rule. This has no runtime side effects beyond producing a
// system-prompt fragment.
func (r *Registry) PromptRules(prompt string) string {
	for _, f := range r.Frameworks {
		if len(f.PromptKeywords) == 0 || !lowerKeywordMatch(prompt, f.PromptKeywords) {
			continue
		}
		target := ResolveTarget(f, "", prompt)
		if rule, ok := f.PromptRulesByTarget[target]; ok {
			return rule + "\n\n" + commonPromptRules
		}
	}
	return genericStaticRule + "\n\n" + commonPromptRules
}
