package selfupdate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var installerExtensions = []string{".exe", ".dmg", partSuffix}

// CleanupStaleInstallers removes installer files left in dir by earlier runs.
// keep names a file that must survive, typically the current run's download.
func CleanupStaleInstallers(dir string, keep string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		full := filepath.Join(dir, name)
		if keep != "" && filepath.Clean(full) == filepath.Clean(keep) {
			continue
		}
		lower := strings.ToLower(name)
		for _, ext := range installerExtensions {
			if strings.HasSuffix(lower, ext) {
				if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
					merr = multierror.Append(merr, fmt.Errorf("remove %s: %w", name, err))
				}
				break
			}
		}
	}
	return merr.ErrorOrNil()
}
