package ports_test

import (
	"github.com/aretw0/weft/pkg/events"
	"github.com/aretw0/weft/pkg/integrity"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/registry"
	"github.com/aretw0/weft/pkg/state"
)

// Compile-time checks that the shipped adapters satisfy the ports.
var (
	_ ports.DocumentStore = (*integrity.Store)(nil)
	_ ports.StateStore    = (*state.Persister)(nil)
	_ ports.EventSink     = (*events.Log)(nil)
	_ ports.AtomResolver  = (*registry.Registry)(nil)
)
