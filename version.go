package juliaproject

import (
	"fmt"
	"strings"
)

// DefaultVersionSpec accepts any stable 1.x Julia.
const DefaultVersionSpec = "^1"

// Version represents a Julia version with major, minor, and patch components
// and an optional prerelease tag. Minor and Patch may be -1 if not specified
// (e.g., "1" parses as {1, -1, -1}).
type Version struct {
	// Major is the major version number (required).
	Major int

	// Minor is the minor version number (-1 if not specified).
	Minor int

	// Patch is the patch version number (-1 if not specified).
	Patch int

	// Prerelease is the tag after "-", e.g. "rc1" or "DEV". Empty for
	// release versions.
	Prerelease string
}

// ParseVersion parses a version string into a Version struct.
// Accepts formats: "X.Y.Z", "X.Y", or "X", each optionally followed by
// "-prerelease" and "+build". Build metadata is discarded.
//
// Examples:
//   - "1.7.2" -> {1, 7, 2, ""}
//   - "1.7" -> {1, 7, -1, ""}
//   - "1" -> {1, -1, -1, ""}
//   - "1.9.0-rc1" -> {1, 9, 0, "rc1"}
func ParseVersion(versionStr string) (Version, error) {
	version := Version{
		Minor: -1,
		Patch: -1,
	}
	base := versionStr
	if cut, _, found := strings.Cut(base, "+"); found {
		base = cut
	}
	if cut, pre, found := strings.Cut(base, "-"); found {
		base = cut
		version.Prerelease = pre
	}
	_, err := fmt.Sscanf(base, "%d.%d.%d", &version.Major, &version.Minor, &version.Patch)
	if err != nil {
		// If the version string is not in the format "X.Y.Z", try parsing it as "X.Y"
		_, err = fmt.Sscanf(base, "%d.%d", &version.Major, &version.Minor)
		if err != nil {
			// If the version string is not in the format "X.Y", try parsing it as "X"
			_, err = fmt.Sscanf(base, "%d", &version.Major)
			if err != nil {
				return Version{}, fmt.Errorf("error parsing version: %v", err)
			}
		}
	}
	if version.Major < 0 || version.Minor < -1 || version.Patch < -1 {
		return Version{}, fmt.Errorf("invalid version: %s", versionStr)
	}
	return version, nil
}

// ParseJuliaVersion parses output from "julia --version"
// (e.g., "julia version 1.7.2").
func ParseJuliaVersion(versionStr string) (Version, error) {
	words := strings.Fields(versionStr)
	if len(words) < 3 ||
		!strings.EqualFold(words[0], "julia") ||
		!strings.EqualFold(words[1], "version") {
		return Version{}, fmt.Errorf("invalid julia version string: %q", versionStr)
	}
	return ParseVersion(words[2])
}

// normalized returns a copy with unspecified components set to zero.
func (v Version) normalized() Version {
	if v.Minor < 0 {
		v.Minor = 0
	}
	if v.Patch < 0 {
		v.Patch = 0
	}
	return v
}

// Compare returns -1 if v < other, 0 if v == other, or 1 if v > other.
// Unspecified components compare as zero, so "1.7" equals "1.7.0". A
// prerelease orders before the release it precedes.
func (v *Version) Compare(other Version) int {
	a, b := v.normalized(), other.normalized()
	if a.Major != b.Major {
		return sign(a.Major - b.Major)
	}
	if a.Minor != b.Minor {
		return sign(a.Minor - b.Minor)
	}
	if a.Patch != b.Patch {
		return sign(a.Patch - b.Patch)
	}
	switch {
	case a.Prerelease == b.Prerelease:
		return 0
	case a.Prerelease == "":
		return 1
	case b.Prerelease == "":
		return -1
	default:
		return strings.Compare(a.Prerelease, b.Prerelease)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// String returns the version as a string, omitting unspecified components.
// Examples: "1.7.2", "1.7", "1", "1.9.0-rc1"
func (v *Version) String() string {
	var s string
	switch {
	case v.Patch != -1:
		s = fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	case v.Minor != -1:
		s = fmt.Sprintf("%d.%d", v.Major, v.Minor)
	default:
		s = fmt.Sprintf("%d", v.Major)
	}
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// MinorString returns the version as "major.minor" (e.g., "1.7").
// Used for juliaup channel names.
func (v *Version) MinorString() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// VersionSpec is a version requirement in the style of a Julia compat
// entry: caret ("^1.6"), tilde ("~1.7.2"), or equality ("=1.7.2"). A bare
// version ("1.6") means the same as caret.
type VersionSpec struct {
	op    byte // '^', '~', or '='
	lower Version
}

// ParseVersionSpec parses a version requirement string.
func ParseVersionSpec(spec string) (VersionSpec, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return VersionSpec{}, fmt.Errorf("empty version spec")
	}
	op := byte('^')
	switch s[0] {
	case '^', '~', '=':
		op = s[0]
		s = strings.TrimSpace(s[1:])
	}
	v, err := ParseVersion(s)
	if err != nil {
		return VersionSpec{}, fmt.Errorf("invalid version spec %q: %v", spec, err)
	}
	return VersionSpec{op: op, lower: v}, nil
}

// String reconstructs the spec, e.g. "^1.6".
func (s VersionSpec) String() string {
	return string(s.op) + s.lower.String()
}

// Matches reports whether v satisfies the spec. With strict set, prerelease
// versions never match.
func (s VersionSpec) Matches(v Version, strict bool) bool {
	if strict && v.Prerelease != "" {
		return false
	}
	lo := s.lower.normalized()
	switch s.op {
	case '=':
		if v.normalized().Major != lo.Major {
			return false
		}
		if s.lower.Minor >= 0 && v.normalized().Minor != lo.Minor {
			return false
		}
		if s.lower.Patch >= 0 && v.normalized().Patch != lo.Patch {
			return false
		}
		return v.Prerelease == s.lower.Prerelease
	case '~':
		hi := Version{Major: lo.Major + 1}
		if s.lower.Minor >= 0 {
			hi = Version{Major: lo.Major, Minor: lo.Minor + 1}
		}
		return inRange(v, lo, hi.normalized())
	default: // caret
		var hi Version
		switch {
		case lo.Major > 0:
			hi = Version{Major: lo.Major + 1}
		case lo.Minor > 0:
			hi = Version{Major: lo.Major, Minor: lo.Minor + 1}
		case lo.Patch > 0:
			hi = Version{Major: lo.Major, Minor: lo.Minor, Patch: lo.Patch + 1}
		default:
			hi = Version{Major: lo.Major + 1}
		}
		return inRange(v, lo, hi.normalized())
	}
}

// inRange reports lo <= v < hi. A prerelease of hi itself does not count as
// below hi, so "2.0.0-rc1" does not satisfy "^1".
func inRange(v, lo, hi Version) bool {
	if v.Compare(lo) < 0 {
		return false
	}
	base := v.normalized()
	base.Prerelease = ""
	return base.Compare(hi) < 0
}
