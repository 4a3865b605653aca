package ir

// Version constants for stored records and the engine.
const (
	// SchemaVersion is the version of the persisted result layout.
	SchemaVersion = "1"

	// EngineVersion is the bitstrat engine version recorded on every result.
	EngineVersion = "0.1.0"
)
