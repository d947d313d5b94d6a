package juliaproject

import "os"

// DefaultEnvPrefix is prepended to the environment variable names that
// configure a project when no other prefix is given.
const DefaultEnvPrefix = "JULIA_PROJECT_"

// EnvVars resolves configuration values from prefixed environment variables.
// A project named "mymodule" created with the prefix "MYMODULE_" reads, for
// example, MYMODULE_JULIA_PATH and MYMODULE_COMPILE.
type EnvVars struct {
	// Prefix is prepended to every variable name.
	Prefix string
}

// NewEnvVars returns an EnvVars with the given prefix. An empty prefix
// selects DefaultEnvPrefix.
func NewEnvVars(prefix string) EnvVars {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return EnvVars{Prefix: prefix}
}

// Name returns the full environment variable name for base.
func (e EnvVars) Name(base string) string {
	return e.Prefix + base
}

// Get returns the value of the prefixed variable, or "" if it is not set.
func (e EnvVars) Get(base string) string {
	return os.Getenv(e.Name(base))
}

// setEnv sets an environment variable and returns a function that restores
// the previous state, unsetting the variable if it was not set before.
// Intended for deferred restoration around temporary mutations.
func setEnv(name, value string) (restore func()) {
	restore = captureEnv(name)
	os.Setenv(name, value)
	return restore
}

// captureEnv records the current state of an environment variable and
// returns a function that restores it.
func captureEnv(name string) (restore func()) {
	old, had := os.LookupEnv(name)
	return func() {
		if had {
			os.Setenv(name, old)
		} else {
			os.Unsetenv(name)
		}
	}
}
