package execkit

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// injectionTokens are the literal tokens spec.md §4.4 forbids in a
// command line outright, regardless of allowlist state: these are
// rejected as injection/traversal attempts, never merely "requires
// approval".
var injectionTokens = []string{";", "&&", "||", "|", "..", "~"}

// containsInjectionToken reports whether command contains one of the
// spec.md §4.4 forbidden substrings.
func containsInjectionToken(command string) (string, bool) {
	for _, tok := range injectionTokens {
		if strings.Contains(command, tok) {
			return tok, true
		}
	}
	return "", false
}

// Policy is the three-tier command classifier. Its shape is grounded
// on the teacher's agentexec.CommandPolicy (allow/require-approval/
// block regex tiers); its semantics are spec.md §4.4's allowlist: the
// allow tier is built from the configured allowlist (or "allow
// everything" when the allowlist is empty, per spec.md), and the block
// tier always includes the injection-token check. There is no
// require-approval tier surfaced to clients in this spec — a command
// that matches no entry of a non-empty allowlist is simply blocked,
// since spec.md has no interactive approval channel.
type Policy struct {
	allowlist []string
	allowAll  bool
	allowRe   []*regexp.Regexp
}

// NewPolicy builds a Policy from the configured allowlist of bare
// command names. An empty allowlist means "allow any command" per
// spec.md §4.4 ("MUST appear in the allowlist if the list is
// non-empty").
func NewPolicy(allowlist []string) *Policy {
	p := &Policy{allowlist: allowlist, allowAll: len(allowlist) == 0}
	for _, name := range allowlist {
		re, err := regexp.Compile(`^` + regexp.QuoteMeta(name) + `(\s|$)`)
		if err != nil {
			log.Warn().Err(err).Str("command", name).Msg("skipping invalid allowlist entry")
			continue
		}
		p.allowRe = append(p.allowRe, re)
	}
	return p
}

// Evaluate returns a non-nil error (never a bare error — always a
// *CodedError carrying −31001) when command must not run.
func (p *Policy) Evaluate(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return newNotAllowed("command is empty")
	}

	if tok, bad := containsInjectionToken(trimmed); bad {
		return newNotAllowed("command contains disallowed token " + tok)
	}

	if p.allowAll {
		return nil
	}

	token := firstToken(trimmed)
	for _, re := range p.allowRe {
		if re.MatchString(trimmed) || re.MatchString(token+" ") {
			return nil
		}
	}
	return newNotAllowed("command not allowed: " + token)
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}
