// Package core holds small shared types that cut across packages.
package core

// Environment selects runtime behavior such as log formatting.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string { return string(e) }

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool { return e == Production }

// ParseEnvironment maps v onto a known environment. Anything
// unrecognized falls back to Development so the service still starts.
func ParseEnvironment(v string) Environment {
	switch env := Environment(v); env {
	case Production, Staging, Testing:
		return env
	default:
		return Development
	}
}
