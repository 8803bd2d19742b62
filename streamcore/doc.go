// Package streamcore defines the shared types of the vstream engine:
// resource and granule identifiers, residency states, request priorities,
// and the feedback/demand records exchanged between the engine's stages.
//
// The package is intentionally free of behavior so that both the public
// facade and the internal pipeline packages can depend on it without
// cycles.
package streamcore
