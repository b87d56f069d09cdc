package camera

// Status is the outcome of validating a Configuration.
type Status int

// Validation results.
const (
	// Valid means the configuration was accepted unchanged.
	Valid Status = iota
	// Adjusted means some values were corrected to supported ones.
	Adjusted
	// Invalid means the configuration cannot be satisfied.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Adjusted:
		return "adjusted"
	default:
		return "invalid"
	}
}

// Validator applies device constraints to a configuration, correcting it in
// place where possible.
type Validator interface {
	Validate(cfg *Configuration) Status
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(cfg *Configuration) Status

// Validate calls f.
func (f ValidatorFunc) Validate(cfg *Configuration) Status { return f(cfg) }

// Configuration is a set of stream configurations for one camera.
type Configuration struct {
	configs   []StreamConfiguration
	validator Validator
}

// NewConfiguration creates an empty configuration checked by v.
func NewConfiguration(v Validator) *Configuration {
	return &Configuration{validator: v}
}

// AddConfiguration appends a stream configuration.
func (c *Configuration) AddConfiguration(sc StreamConfiguration) {
	c.configs = append(c.configs, sc)
}

// At returns the i-th stream configuration for in-place edits.
func (c *Configuration) At(i int) *StreamConfiguration {
	return &c.configs[i]
}

// Len returns the number of stream configurations.
func (c *Configuration) Len() int { return len(c.configs) }

// Empty reports whether the configuration holds no stream.
func (c *Configuration) Empty() bool { return len(c.configs) == 0 }

// Truncate drops every stream configuration past n.
func (c *Configuration) Truncate(n int) {
	if n < len(c.configs) {
		c.configs = c.configs[:n]
	}
}

// Validate checks and adjusts the configuration. Re-validating a Valid
// configuration leaves it Valid and unchanged.
func (c *Configuration) Validate() Status {
	if c.Empty() || c.validator == nil {
		return Invalid
	}
	return c.validator.Validate(c)
}
