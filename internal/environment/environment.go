// Package environment reports how the host binary was built.
package environment

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

type Mode int

const (
	Release Mode = iota
	Debug
)

func (m Mode) String() string {
	if m == Debug {
		return "debug"
	}
	return "release"
}

// ParseMode accepts "debug"/"dev"/"development" and "release"/"prod"/
// "production".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "dev", "development":
		return Debug, nil
	case "release", "prod", "production":
		return Release, nil
	default:
		return Release, fmt.Errorf("unknown mode %q", s)
	}
}

// Probe supplies the build mode and application identifier.
type Probe interface {
	Mode() Mode
	BundleID() (string, error)
}

var ErrNoBuildInfo = errors.New("build info not available")

// BuildInfoProbe reads the identifier from the main module path embedded
// by the Go toolchain. The mode comes from the build tags (see mode_*.go).
type BuildInfoProbe struct {
	readBuildInfo func() (*debug.BuildInfo, bool)
}

func NewBuildInfoProbe() *BuildInfoProbe {
	return &BuildInfoProbe{readBuildInfo: debug.ReadBuildInfo}
}

func (p *BuildInfoProbe) Mode() Mode {
	return buildMode
}

func (p *BuildInfoProbe) BundleID() (string, error) {
	info, ok := p.readBuildInfo()
	if !ok || info == nil {
		return "", ErrNoBuildInfo
	}
	if info.Main.Path == "" {
		return "", fmt.Errorf("%w: empty main module path", ErrNoBuildInfo)
	}
	return info.Main.Path, nil
}

// Static is a fixed probe, for hosts that know their own identity.
type Static struct {
	BuildMode  Mode
	Identifier string
}

func (s Static) Mode() Mode { return s.BuildMode }

func (s Static) BundleID() (string, error) {
	if s.Identifier == "" {
		return "", errors.New("no bundle id configured")
	}
	return s.Identifier, nil
}

// Override wraps a probe and replaces its mode.
type Override struct {
	Probe
	ForcedMode Mode
}

func (o Override) Mode() Mode { return o.ForcedMode }
