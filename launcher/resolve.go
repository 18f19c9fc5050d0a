package launcher

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/guseggert/maestro/internal/files"
)

// EnvBrowser overrides executable resolution.
const EnvBrowser = "MAESTRO_BROWSER"

const headlessShell = "chrome-headless-shell"

// ResolveExecutable finds a browser to launch. An explicit name is looked up on PATH
// (or used as is when it contains a path separator). Without one it tries $MAESTRO_BROWSER,
// a chrome-headless-shell in the working directory or any of its parents, and finally the
// well-known install locations of Chrome and Chromium.
func ResolveExecutable(name string) (string, error) {
	if name != "" {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, err)
		}
		return path, nil
	}

	if path := os.Getenv(EnvBrowser); path != "" {
		return path, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	path, err := files.FindUp(headlessShell, wd)
	if err != nil {
		return "", err
	}
	if path != "" {
		return path, nil
	}

	if path, found := launcher.LookPath(); found {
		return path, nil
	}
	return "", ErrExecutableNotFound
}
