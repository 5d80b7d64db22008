// Package version computes the minor-version upgrade path for an EKS control
// plane. EKS only accepts single-minor version hops, so a 1.28 cluster
// targeting 1.31 has to walk 1.29 and 1.30 first.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

var (
	// ErrInvalidVersion marks version strings that cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrUpgradeNotPossible marks policy violations: downgrades and
	// cross-major jumps.
	ErrUpgradeNotPossible = errors.New("upgrade not possible")
)

// Parse accepts "1.33", "v1.33" and full "1.33.2-eks-..." forms and requires
// at least a major and minor component.
func Parse(s string) (semver.Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if strings.Count(trimmed, ".") < 1 {
		return semver.Version{}, fmt.Errorf("%w: %q must include major and minor components", ErrInvalidVersion, s)
	}

	v, err := semver.ParseTolerant(trimmed)
	if err != nil {
		return semver.Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	return v, nil
}

// Plan returns every minor version between current and target, ascending and
// inclusive of target. An equal current and target yields an empty path: the
// control plane is already there and only add-ons and node groups need a sync
// pass. Each entry is one control plane upgrade step.
func Plan(current, target string) ([]string, error) {
	cur, err := Parse(current)
	if err != nil {
		return nil, err
	}
	tgt, err := Parse(target)
	if err != nil {
		return nil, err
	}

	if cur.Major != tgt.Major {
		return nil, fmt.Errorf("%w: cannot upgrade across major versions (%d.%d to %d.%d)",
			ErrUpgradeNotPossible, cur.Major, cur.Minor, tgt.Major, tgt.Minor)
	}
	if tgt.Minor < cur.Minor {
		return nil, fmt.Errorf("%w: downgrade from %d.%d to %d.%d is not supported",
			ErrUpgradeNotPossible, cur.Major, cur.Minor, tgt.Major, tgt.Minor)
	}

	var path []string
	for minor := cur.Minor + 1; minor <= tgt.Minor; minor++ {
		path = append(path, fmt.Sprintf("%d.%d", cur.Major, minor))
	}
	return path, nil
}

// MajorMinor normalizes a version string to its "major.minor" form.
func MajorMinor(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor), nil
}
