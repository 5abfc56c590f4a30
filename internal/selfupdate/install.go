package selfupdate

import (
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/foundry-erp/updater/internal/logger"
)

type spawnFunc func(name string, args ...string) error

// Launcher starts a downloaded installer as a detached process.
type Launcher struct {
	goos  string
	spawn spawnFunc
}

// NewLauncher creates a Launcher for goos (runtime.GOOS when empty).
func NewLauncher(goos string) *Launcher {
	if strings.TrimSpace(goos) == "" {
		goos = runtime.GOOS
	}
	goos, _ = NormalizePlatform(goos, "")
	return &Launcher{goos: goos, spawn: startDetached}
}

// Command returns the program and arguments used to run the installer at path.
func (l *Launcher) Command(path string) (string, []string, error) {
	switch l.goos {
	case "windows":
		return path, nil, nil
	case "darwin":
		return "open", []string{path}, nil
	default:
		return "", nil, ErrInstallUnsupported
	}
}

// Launch spawns the installer at path. It returns once the process has been
// started; the caller decides when to quit.
func (l *Launcher) Launch(path string) error {
	if strings.TrimSpace(path) == "" {
		return &NoInstallerError{}
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return &NoInstallerError{Path: path}
	}
	name, args, err := l.Command(path)
	if err != nil {
		return err
	}
	logger.Info("launching installer: %s %s", name, strings.Join(args, " "))
	if err := l.spawn(name, args...); err != nil {
		return &SpawnError{Path: path, Err: err}
	}
	return nil
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	// nil stdio is connected to the null device.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedProcAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
