package audit

import "strings"

// verbActions maps a raw operation verb (as passed to Log) to its
// namespaced external action name. Unmapped verbs fall back to
// defaultNamespace + "." + verb, per the namespace.default_verb rule.
var verbActions = map[string]string{
	"vault.initialize":       "vault.initialized",
	"vault.unlock":           "vault.unlocked",
	"vault.lock":             "vault.locked",
	"vault.rotate_key":       "vault.key_rotated",
	"integration.set":        "secret.created",
	"integration.remove":     "secret.deleted",
	"capability.issue":       "capability.issued",
	"capability.execute_ok":  "capability.executed",
	"capability.execute_err": "capability.execution_failed",
	"capability.revoke":      "capability.revoked",
	"capability.reissue":     "capability.reissued",
	"identity.rotate":        "identity.key_rotated",
	"ceiling.escalate":       "escalation.requested",
	"ceiling.approve":        "escalation.approved",
	"ceiling.deny":           "escalation.denied",
	"ceiling.set_agent":      "ceiling.agent_ceiling_set",
	"snapshot.create":        "snapshot.created",
	"snapshot.push":          "snapshot.pushed",
}

const defaultNamespace = "event"

// ActionFor resolves verb to its external action name.
func ActionFor(verb string) string {
	if action, ok := verbActions[verb]; ok {
		return action
	}
	ns := defaultNamespace
	if i := strings.IndexByte(verb, '.'); i > 0 {
		ns = verb[:i]
	}
	return ns + ".default_verb"
}
