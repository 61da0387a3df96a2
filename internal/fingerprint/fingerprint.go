// Package fingerprint computes the deterministic grouping key that assigns
// an error occurrence to a stack. Repeated instances of the same defect
// must collapse to one signature despite surface differences such as line
// numbers or intermediate framework frames.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"error-tracker/internal/models"
)

// Namespaces treated as platform code when a project configures no
// explicit user-namespace allow list.
var defaultVendorPrefixes = []string{"System", "Microsoft"}

// Settings carries the per-project configuration consumed by the
// fingerprinter.
type Settings struct {
	// UserNamespaces is an allow list: when non-empty, only frames whose
	// namespace matches a prefix here count as user code.
	UserNamespaces []string
	// CommonMethods lists rendered method signatures too generic to group
	// on; matching frames are rejected even when otherwise eligible.
	CommonMethods []string
}

// FromProject extracts fingerprint settings from a project.
func FromProject(p *models.Project) Settings {
	if p == nil {
		return Settings{}
	}
	return Settings{UserNamespaces: p.UserNamespaces, CommonMethods: p.CommonMethods}
}

// Signature is the ordered set of fields the grouping hash is computed
// over.
type Signature struct {
	ExceptionType string
	Method        string
	Code          string
	// UniqueID is populated only when nothing else could be; such
	// occurrences never group with any other occurrence.
	UniqueID string
}

// Fields returns the populated signature values in hash order.
func (s Signature) Fields() []string {
	var fields []string
	for _, v := range []string{s.ExceptionType, s.Method, s.Code, s.UniqueID} {
		if v != "" {
			fields = append(fields, v)
		}
	}
	return fields
}

// Hash returns the stable one-way hash over the signature fields, or the
// empty string when every field is empty. The empty branch is effectively
// unreachable because a UniqueID is injected when nothing else populates,
// but the guard stays.
func (s Signature) Hash() string {
	fields := s.Fields()
	if len(fields) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\n")))
	return hex.EncodeToString(sum[:])
}

// Compute derives the signature for an error chain. The chain is walked
// innermost-first; within each error, frames are scanned top of stack
// first and the first user frame wins.
func Compute(errorChain *models.Error, settings Settings) Signature {
	if errorChain == nil {
		return Signature{UniqueID: uuid.New().String()}
	}

	chain := errorChain.Chain()
	var sig Signature
	for i := len(chain) - 1; i >= 0; i-- {
		current := chain[i]
		for _, frame := range current.StackTrace {
			if !isUserFrame(frame, settings) {
				continue
			}
			sig.ExceptionType = current.Type
			sig.Method = frame.Signature()
			appendExtraFields(&sig, current)
			return sig
		}
	}

	// No frame anywhere qualified; fall back on the innermost error.
	innermost := chain[len(chain)-1]
	switch {
	case innermost.TargetMethod != nil:
		sig.ExceptionType = innermost.Type
		sig.Method = innermost.TargetMethod.Signature()
	case len(innermost.StackTrace) > 0:
		sig.ExceptionType = innermost.Type
		sig.Method = innermost.StackTrace[0].Signature()
	case innermost.Type != "":
		sig.ExceptionType = innermost.Type
	}
	appendExtraFields(&sig, innermost)

	if sig.ExceptionType == "" && sig.Method == "" && sig.Code == "" {
		// Nothing usable: inject a random value so this occurrence never
		// groups, including with repeats of itself.
		sig.UniqueID = uuid.New().String()
	}
	return sig
}

func isUserFrame(frame models.StackFrame, settings Settings) bool {
	if frame.Name == "" {
		return false
	}
	rendered := frame.Signature()
	for _, m := range settings.CommonMethods {
		if rendered == m {
			return false
		}
	}
	if frame.Namespace == "" {
		return true
	}
	if len(settings.UserNamespaces) > 0 {
		return matchesPrefix(frame.Namespace, settings.UserNamespaces)
	}
	return !matchesPrefix(frame.Namespace, defaultVendorPrefixes)
}

func matchesPrefix(namespace string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(namespace, p) {
			return true
		}
	}
	return false
}

// appendExtraFields folds in recognized disambiguating properties of the
// chosen error, currently the numeric/platform error code.
func appendExtraFields(sig *Signature, err *models.Error) {
	if err.Code != "" {
		sig.Code = err.Code
	}
}
