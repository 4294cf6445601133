package deploy

import "regexp"

// credentialPattern matches CLOUDFLARE_API_TOKEN="..." and
// CLOUDFLARE_ACCOUNT_ID="..." assignments, per spec.md §4.4 "Sanitization".
var credentialPattern = regexp.MustCompile(`(CLOUDFLARE_API_TOKEN|CLOUDFLARE_ACCOUNT_ID)="[^"]*"`)

// Sanitize redacts Cloudflare credentials from a deploy log before it is
// surfaced through an error or persisted to the archive.
func Sanitize(log string) string {
	return credentialPattern.ReplaceAllString(log, `$1="[REDACTED]"`)
}
