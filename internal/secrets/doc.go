// Package secrets redacts credentials from text before it is persisted
// to memory or placed in a prompt.
//
// Detection combines the gitleaks default ruleset with a few regexp
// rules for shapes common in CI logs (URLs with userinfo, bearer
// headers, key=value assignments). Matches are replaced with
// [REDACTED:<rule-id>] so the surrounding text still embeds usefully.
package secrets
