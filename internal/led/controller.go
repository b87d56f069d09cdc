package led

// Patterns understood by every Controller.
const (
	PatternSolid     = "solid"
	PatternHeartbeat = "heartbeat"
	PatternOff       = "off"
)

// Controller abstracts LED hardware control across different SBC boards.
// Implementations handle board-specific LED naming and capabilities.
type Controller interface {
	// Set switches an LED on or off and optionally changes its pattern.
	//   ledType: board-specific LED identifier (e.g., "user", "system", "act")
	//   pattern: "solid", "heartbeat", "off" or a raw trigger name; empty
	//            leaves the pattern unchanged
	Set(ledType string, enabled bool, pattern string) error
	// Available returns the LED types supported by this controller.
	Available() []string
	// Patterns returns the patterns supported by this controller.
	Patterns() []string
}
