package cliutil

import "regexp"

const redactedPlaceholder = "[redacted]"

// A manifest's env blocks and the child processes' log lines can carry
// credentials for the launch server: kubeconfig tokens, registry
// logins, bundle-store access keys. Rather than enumerating key names,
// any assignment whose key looks credential-bearing is masked, along
// with ${VAR} template references that were never expanded.
var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)

	secretAssignPattern = regexp.MustCompile(
		`(?i)\b(\w*(?:password|passwd|secret|token|api_?key|access_?key|private_?key|credentials?)\w*)` +
			`(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

// RedactSecrets masks credential-looking assignments and unexpanded
// template references in user-facing output, such as the rendered
// manifest of `check --show` and echoed child log lines.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllString(message, "${"+redactedPlaceholder+"}")
	return secretAssignPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}
