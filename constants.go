package t402

// Version is the library version
const Version = "2.0.0"

// Protocol versions carried in the t402Version wire field
const (
	ProtocolVersionV1 = 1
	ProtocolVersion   = 2
)

// DefaultMaxTimeoutSeconds is applied to payment requirements whose resource
// config does not set a timeout.
const DefaultMaxTimeoutSeconds = 300

// Export the main types with uppercase names for external packages
type (
	// T402Client is the exported type for t402Client
	T402Client = t402Client

	// T402ResourceServer is the exported type for t402ResourceServer
	T402ResourceServer = t402ResourceServer

	// T402Facilitator is the exported type for t402Facilitator
	T402Facilitator = t402Facilitator
)
