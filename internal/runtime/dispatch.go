package runtime

import (
	"regexp"
	"strings"

	"github.com/aretw0/weft/pkg/atom"
	"github.com/aretw0/weft/pkg/domain"
)

// Dispatch route kinds, recorded in events and state.
const (
	RouteFlow     = "flow"
	RouteRegistry = "registry"
	RouteManual   = "manual"
)

// flowMarkerRe recognizes the inline intent marker at the line level — it
// must stand alone between whitespace, so a marker quoted inside prose or
// fenced code does not dispatch. Compiled once; RE2 keeps evaluation
// linear regardless of input.
var flowMarkerRe = regexp.MustCompile(`(?:^|\s)<!-- type: flow -->(?:\s|$)`)

// zeroWidth strips the invisible characters an adversarial document could
// use to smuggle a marker past (or into) the router.
var zeroWidth = strings.NewReplacer(
	"​", "", // zero width space
	"‌", "", // zero width non-joiner
	"‍", "", // zero width joiner
	"\uFEFF", "", // zero width no-break space
)

// Dispatch resolves the atom responsible for a task:
//
//  1. The metadata marker (<!-- type: flow -->) wins outright.
//  2. Otherwise the canonical prefix token — the text before ':' or
//     whitespace — is looked up in the registry, case-sensitively.
//  3. No match falls back to ManualIntervention.
//
// A registry hit on a broken atom returns the resolution error: the
// dispatch fails cleanly rather than running something else.
func (e *Engine) Dispatch(task *domain.Task) (atom.Atom, string, error) {
	name := zeroWidth.Replace(task.Name)

	if flowMarkerRe.MatchString(name) {
		return &atom.FlowEngineAtom{}, RouteFlow, nil
	}

	prefix := prefixToken(name)
	if prefix != "" && e.registry.Has(prefix) {
		a, err := e.registry.Resolve(prefix)
		if err != nil {
			return nil, RouteRegistry, err
		}
		return a, RouteRegistry, nil
	}

	return &atom.ManualInterventionAtom{}, RouteManual, nil
}

// prefixToken extracts the routing token: everything before the first ':'
// or whitespace of the trimmed name.
func prefixToken(name string) string {
	name = strings.TrimSpace(name)
	end := len(name)
	for i, r := range name {
		if r == ':' || r == ' ' || r == '\t' {
			end = i
			break
		}
	}
	return name[:end]
}
