// Package juliaproject bootstraps and manages a Julia runtime on behalf of
// a host application: it finds or installs a julia executable, materializes
// a per-project package environment, repairs PyCall/libpython mismatches,
// runs Julia through a persistent subprocess bridge, and optionally
// compiles a custom system image for fast startups.
//
// The package is meant to be embedded by projects that ship Julia code to
// users who should not need to know Julia's package management: the first
// call to EnsureInit performs every setup step, asking at most three
// questions, and later calls are no-ops.
//
// # Initialization
//
// A project is declared once and initialized on demand:
//
//	project, err := juliaproject.NewJuliaProject("myjuliamod", "/path/to/myjuliamod", nil)
//	if err != nil { ... }
//	if err := project.EnsureInit(nil); err != nil { ... }
//	out, err := project.Eval("sqrt(2.0)")
//
// EnsureInit runs a fixed sequence: locate or install julia, probe its
// version, create `<root>/julia_project/<name>-<version>` seeded from the
// package's Project.toml template, resolve and instantiate the package
// manifests, start the bridge, and finally run an optional system image
// compilation. A failure at any step leaves the project uninitialized so
// that calling EnsureInit again retries from the start.
//
// # Bridges
//
// Two interop families are supported behind one interface. The default
// pycall bridge runs Julia as a REPL server over a delimiter-framed text
// protocol and requires the PyCall package, whose build is probed for
// libpython compatibility and repaired when it does not match the host
// python. The pythoncall bridge speaks length-prefixed MessagePack and
// requires PythonCall and MsgPack. Exactly one family is active per
// project; asking for the other after initialization is an error.
//
//	err := project.EnsureInit(&juliaproject.InitOptions{Bridge: juliaproject.BridgePythonCall})
//
// # Questions and environment variables
//
// Three decisions may require user input: whether to install julia,
// whether to compile a system image, and whether to use a project-private
// package depot. Each is answered, in priority order, by an InitOptions
// field, by an environment variable, or by one interactive prompt. With a
// prefix of JULIA_PROJECT_ (configurable per project), the variables are:
//
//	JULIA_PROJECT_JULIA_PATH     path of the julia executable to use
//	JULIA_PROJECT_INSTALL_JULIA  y/n, install julia when none is found
//	JULIA_PROJECT_COMPILE        y/n, compile a system image after startup
//	JULIA_PROJECT_DEPOT          y/n, use a project-private depot
//	JULIA_PROJECT_LOG_PATH       log file destination
//
// Any other value than "y" or "n" in the yes/no variables is a
// configuration error. In non-interactive environments every needed answer
// must be pre-supplied this way, since prompting without a terminal fails
// rather than hang.
//
// # System images
//
// When the package directory carries a sys_image template (a Project.toml
// and a packages.jl listing the packages to bake in), Compile drives
// PackageCompiler to produce `sys_<name>-<version>.<ext>` and later
// initializations load it via julia's -J flag. Clean removes the compiled
// image and resolved manifests; CleanAll removes every trace of the
// project's data directory.
package juliaproject
