package statusdoc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
)

// Serialize renders a StatusTree to canonical document bytes: LF endings,
// strict 4-space indentation, canonical markers ([x] for done regardless of
// how the source spelled it), headers first. Task names are emitted
// byte-for-byte.
//
// The tree must satisfy the domain invariants; a tree that would not parse
// back is refused rather than written.
func Serialize(tree *domain.StatusTree) ([]byte, error) {
	if err := validateStatuses(tree.Roots); err != nil {
		return nil, err
	}
	if err := tree.ValidateConsistency(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if tree.BOM {
		buf.Write(utf8BOM)
	}

	for _, key := range tree.Headers.Keys() {
		value, _ := tree.Headers.Get(key)
		fmt.Fprintf(&buf, "%s: %s\n", key, value)
	}
	if tree.Headers.Len() > 0 && len(tree.Roots) > 0 {
		buf.WriteByte('\n')
	}

	writeTasks(&buf, tree.Roots, 0)
	return buf.Bytes(), nil
}

func writeTasks(buf *bytes.Buffer, tasks []*domain.Task, depth int) {
	for _, task := range tasks {
		buf.WriteString(strings.Repeat("    ", depth))
		buf.WriteString("- [")
		buf.WriteByte(markerFor(task.Status))
		buf.WriteString("] ")
		buf.WriteString(task.Name)
		if task.Ref != "" {
			if strings.ContainsAny(task.Ref, " \t") {
				// Literal quoting: the grammar has no escape sequences.
				fmt.Fprintf(buf, " @ \"%s\"", task.Ref)
			} else {
				fmt.Fprintf(buf, " @ %s", task.Ref)
			}
		}
		buf.WriteByte('\n')
		writeTasks(buf, task.Children, depth+1)
	}
}

func markerFor(status domain.Status) byte {
	switch status {
	case domain.StatusActive:
		return '/'
	case domain.StatusDone:
		return 'x'
	case domain.StatusSkipped:
		return '-'
	default:
		return ' '
	}
}

func validateStatuses(tasks []*domain.Task) error {
	for _, task := range tasks {
		if !task.Status.Valid() {
			return &domain.ValidationError{Msg: fmt.Sprintf("task '%s' has out-of-range status '%s'", task.Name, task.Status)}
		}
		if err := validateStatuses(task.Children); err != nil {
			return err
		}
	}
	return nil
}
