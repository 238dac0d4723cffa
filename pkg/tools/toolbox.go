// Package tools is the scoped capability surface handed to atoms. An atom
// never touches the filesystem directly: it gets a Toolbox whose role decides
// what is reachable, with every path funneled through the safepath jail and
// every edit through loom. The loom path whitelist applies to edits only;
// reads are confined to the jail root but not filtered by the whitelist.
package tools

import (
	"fmt"
	"os"

	"github.com/aretw0/weft/pkg/loom"
	"github.com/aretw0/weft/pkg/safepath"
)

// Role gates the capability tiers.
type Role string

const (
	// RoleReader may only read files inside the jail.
	RoleReader Role = "reader"
	// RoleEditor may also edit whitelisted files through loom.
	RoleEditor Role = "editor"
)

// RoleError reports a capability request above the granted role.
type RoleError struct {
	Need Role
	Have Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("operation requires role %q, atom has %q", e.Need, e.Have)
}

// Toolbox is the per-dispatch capability set.
type Toolbox struct {
	role Role
	root string
	loom *loom.Loom
}

// NewToolbox builds a capability set jailed to root. The loom instance
// carries the path whitelist, which ReadFile does not consult.
func NewToolbox(role Role, root string, l *loom.Loom) *Toolbox {
	return &Toolbox{role: role, root: root, loom: l}
}

// Role returns the granted role.
func (t *Toolbox) Role() Role {
	return t.role
}

// ReadFile reads a file inside the jail.
func (t *Toolbox) ReadFile(path string) ([]byte, error) {
	full, err := safepath.Resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Loom returns the editing surface, editor role required.
func (t *Toolbox) Loom() (*loom.Loom, error) {
	if t.role != RoleEditor {
		return nil, &RoleError{Need: RoleEditor, Have: t.role}
	}
	return t.loom, nil
}
