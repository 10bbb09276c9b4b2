// Package models defines the core domain types for cephfetch.
package models

import (
	"errors"
	"strings"
)

// Target validation errors.
var (
	ErrInvalidTargetName    = errors.New("target name is required")
	ErrInvalidTargetAddress = errors.New("target address is required")
	ErrUnsafeTargetName     = errors.New("target name must not contain path separators")
	ErrDuplicateTarget      = errors.New("duplicate target name")
)

// Target is one remote host visited during a collection run.
type Target struct {
	// Name identifies the target and names its local artifact.
	Name string `json:"name" mapstructure:"name"`

	// Address is host, host:port or an IP address.
	Address string `json:"address" mapstructure:"address"`
}

// Validate checks if the target is usable.
func (t Target) Validate() error {
	validation := &ValidationErrors{}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		validation.Add("name", ErrInvalidTargetName)
	} else if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		validation.Add("name", ErrUnsafeTargetName)
	}
	if strings.TrimSpace(t.Address) == "" {
		validation.Add("address", ErrInvalidTargetAddress)
	}
	return validation.Err()
}

// String returns "name (address)".
func (t Target) String() string {
	return t.Name + " (" + t.Address + ")"
}

// FilterTargets keeps targets whose names appear in names, preserving order.
// An empty names slice keeps every target.
func FilterTargets(targets []Target, names []string) []Target {
	if len(names) == 0 {
		return targets
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			wanted[name] = struct{}{}
		}
	}
	filtered := make([]Target, 0, len(wanted))
	for _, target := range targets {
		if _, ok := wanted[target.Name]; ok {
			filtered = append(filtered, target)
		}
	}
	return filtered
}
