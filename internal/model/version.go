package model

// Version constants for the value model and runtime.
const (
	// SchemaVersion is the version of the persisted value encoding.
	SchemaVersion = "1"

	// RuntimeVersion is the tessera runtime version.
	RuntimeVersion = "0.1.0"
)
