package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by a command's option tree.
type NamedFlagSetOptions interface {
	// Flags returns the option flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills derived fields after flags and config are loaded.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}
