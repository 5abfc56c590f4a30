//go:build !windows

package config

import (
	"fmt"
	"os"
)

func warnIfPermissiveConfig(path string) {
	if fi, err := os.Stat(path); err == nil {
		mode := fi.Mode().Perm()
		// Group or other read access exposes the bridge token.
		if mode&0o044 != 0 {
			// The logger is not configured yet while config loads.
			fmt.Fprintf(os.Stderr, "Warning: config file %s holds a bridge token but has permissive permissions (%o), consider chmod 600\n", path, mode)
		}
	}
}
