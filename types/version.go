package types

// Version is the canonical project version.
// The CLI and the state file format share this version.
const Version = "0.3.0"

// StateVersion is the state file schema version written into every
// descriptor. Bumped only on incompatible layout changes.
const StateVersion = 1
