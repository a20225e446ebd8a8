// Package safety decides whether a script is allowed to be stored and later
// executed on a machine. It is a pre-execution textual gate over a restricted
// command grammar, not a runtime confinement mechanism: every pipeline segment
// must start with an allowlisted read-only utility, and no argument or
// redirection target may reach a sensitive filesystem root.
package safety

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonDisallowedToken    Reason = "DisallowedToken"
	ReasonChainingNotAllowed Reason = "ChainingNotAllowed"
	ReasonEmptySegment       Reason = "EmptySegment"
	ReasonUnparsableSegment  Reason = "UnparsableSegment"
	ReasonNoCommand          Reason = "NoCommand"
	ReasonCommandNotAllowed  Reason = "CommandNotAllowed"
	ReasonForbiddenPath      Reason = "ForbiddenPath"
	ReasonDanglingRedirect   Reason = "DanglingRedirect"
)

// RejectionError reports why a script failed validation. Line is 1-based and
// zero when the rejection is not line-scoped (the global token scan).
type RejectionError struct {
	Reason Reason
	Line   int
	Token  string
}

func (e *RejectionError) Error() string {
	msg := string(e.Reason)
	if e.Token != "" {
		msg += fmt.Sprintf(": %q", e.Token)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	return msg
}

// disallowedConstructs are rejected anywhere in the raw text, before any
// structural parsing. Command chaining and substitution have no place in the
// restricted grammar.
var disallowedConstructs = []string{";", "&&", "||", "`", "$("}

// superUserRe matches sudo/su as whole words. A plain substring scan would
// also hit harmless text such as "suricata".
var superUserRe = regexp.MustCompile(`(^|[^a-z0-9_])(sudo|su)($|[^a-z0-9_])`)

// allowedCommands is the fixed set of read-only/diagnostic utilities permitted
// as the leading token of a pipeline segment. Matched against the lower-cased
// path basename, no wildcard or prefix matching.
var allowedCommands = map[string]bool{
	"cat": true, "ls": true, "ps": true, "grep": true, "egrep": true,
	"head": true, "tail": true, "wc": true, "echo": true, "env": true,
	"printenv": true, "uname": true, "hostname": true, "whoami": true,
	"id": true, "date": true, "uptime": true, "w": true, "df": true,
	"du": true, "free": true, "which": true, "stat": true, "file": true,
	"find": true, "lsblk": true, "lscpu": true, "ip": true, "ss": true,
	"netstat": true, "dig": true, "nslookup": true, "host": true,
	"ping": true, "traceroute": true,
}

// forbiddenRoots are sensitive filesystem roots no token may reference.
// Matching is directory-boundary aware after path cleaning.
var forbiddenRoots = []string{
	"/etc", "/root", "/boot", "/dev", "/proc", "/sys",
	"/var/lib", "/var/run", "/run",
}

var envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// redirectOps are matched longest-first so "2>>" wins over "2>" and ">>"
// over ">". The shell treats a redirection the same with or without a space
// before its target, so both ">" "/etc/motd" and ">/etc/motd" must resolve
// to the same target check.
var redirectOps = []string{"2>>", "2>", ">>", ">", "<"}

// splitRedirect reports whether the token starts with a redirection operator,
// returning the operator and the glued target (empty when the target is the
// next token).
func splitRedirect(token string) (op, target string, ok bool) {
	for _, r := range redirectOps {
		if strings.HasPrefix(token, r) {
			return r, token[len(r):], true
		}
	}
	return "", "", false
}

// Validate accepts or rejects script content. On success the content is usable
// unchanged; the validator never rewrites scripts. It holds no state and is
// safe for concurrent use.
func Validate(content string) error {
	lowered := strings.ToLower(content)
	for _, construct := range disallowedConstructs {
		if strings.Contains(lowered, construct) {
			return &RejectionError{Reason: ReasonDisallowedToken, Token: construct}
		}
	}
	if m := superUserRe.FindStringSubmatch(lowered); m != nil {
		return &RejectionError{Reason: ReasonDisallowedToken, Token: m[2]}
	}

	for i, line := range strings.Split(content, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		// Line-scoped chaining check. Redundant with the global scan but
		// reports the originating line.
		for _, op := range []string{";", "&&", "||"} {
			if strings.Contains(trimmed, op) {
				return &RejectionError{Reason: ReasonChainingNotAllowed, Line: lineNo, Token: op}
			}
		}
		for _, segment := range strings.Split(trimmed, "|") {
			if err := validateSegment(segment, lineNo); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSegment checks one pipe-delimited portion of a line: tokenize,
// resolve the command token past any NAME=VALUE prefixes, enforce the
// allowlist, then scan arguments and redirection targets for forbidden paths.
func validateSegment(segment string, lineNo int) error {
	if strings.TrimSpace(segment) == "" {
		return &RejectionError{Reason: ReasonEmptySegment, Line: lineNo}
	}

	tokens, err := shlex.Split(segment)
	if err != nil {
		return &RejectionError{Reason: ReasonUnparsableSegment, Line: lineNo}
	}

	cmdIdx := -1
	for i, tok := range tokens {
		if envAssignRe.MatchString(tok) {
			continue
		}
		cmdIdx = i
		break
	}
	if cmdIdx == -1 {
		return &RejectionError{Reason: ReasonNoCommand, Line: lineNo}
	}

	cmd := tokens[cmdIdx]
	base := strings.ToLower(cmd)
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if !allowedCommands[base] {
		return &RejectionError{Reason: ReasonCommandNotAllowed, Line: lineNo, Token: cmd}
	}

	args := tokens[cmdIdx+1:]
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if op, target, ok := splitRedirect(tok); ok {
			if target == "" {
				if i == len(args)-1 {
					return &RejectionError{Reason: ReasonDanglingRedirect, Line: lineNo, Token: op}
				}
				i++
				target = args[i]
			}
			if forbiddenPath(target) {
				return &RejectionError{Reason: ReasonForbiddenPath, Line: lineNo, Token: target}
			}
			continue
		}
		if forbiddenPath(tok) {
			return &RejectionError{Reason: ReasonForbiddenPath, Line: lineNo, Token: tok}
		}
	}
	return nil
}

// forbiddenPath reports whether a token references a sensitive location.
// ~root is treated as forbidden; other ~-prefixed tokens pass. This is a
// known-imprecise heuristic for home-directory coverage.
func forbiddenPath(token string) bool {
	tok := strings.Trim(token, `"'`)
	if tok == "~root" || strings.HasPrefix(tok, "~root/") {
		return true
	}
	if !strings.HasPrefix(tok, "/") {
		return false
	}
	tok = path.Clean(tok)
	for _, root := range forbiddenRoots {
		if tok == root || strings.HasPrefix(tok, root+"/") {
			return true
		}
	}
	return false
}

// NormalizeName produces the storage key for a script name: all whitespace
// stripped, lower-cased. Applied unconditionally, independent of content
// validity.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
