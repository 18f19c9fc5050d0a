// Package download builds the download URLs of browser builds.
// It only constructs URLs; fetching and unpacking are left to the caller.
package download

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

type Browser string

const (
	Chrome              Browser = "chrome"
	ChromeHeadlessShell Browser = "chrome-headless-shell"
	ChromeDriver        Browser = "chromedriver"
	Chromium            Browser = "chromium"
	Firefox             Browser = "firefox"
)

var Browsers = []Browser{Chrome, ChromeHeadlessShell, ChromeDriver, Chromium, Firefox}

// Platform is an OS and architecture combination as named by the download servers.
type Platform string

const (
	Linux    Platform = "linux"
	LinuxArm Platform = "linux_arm"
	Mac      Platform = "mac"
	MacArm   Platform = "mac_arm"
	Win32    Platform = "win32"
	Win64    Platform = "win64"
)

var Platforms = []Platform{Linux, LinuxArm, Mac, MacArm, Win32, Win64}

var (
	ErrUnknownBrowser  = errors.New("unknown browser")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrEmptyBuildID    = errors.New("empty build id")
)

const (
	chromeForTestingURL  = "https://storage.googleapis.com/chrome-for-testing-public/"
	chromiumSnapshotsURL = "https://storage.googleapis.com/chromium-browser-snapshots/"
	firefoxReleasesURL   = "https://archive.mozilla.org/pub/firefox/releases/"
	firefoxNightlyURL    = "https://archive.mozilla.org/pub/firefox/nightly/latest-mozilla-central/"

	// chromium Windows archives were renamed after this revision
	chromiumWinRenameRevision = 591479
	// firefox Linux builds are xz-compressed from this major version on
	firefoxXZMajor = 136
)

// DetectPlatform maps Go's GOOS and GOARCH to a Platform.
func DetectPlatform(goos, goarch string) (Platform, error) {
	switch goos {
	case "linux":
		if goarch == "arm64" {
			return LinuxArm, nil
		}
		return Linux, nil
	case "darwin":
		if goarch == "arm64" {
			return MacArm, nil
		}
		return Mac, nil
	case "windows":
		if goarch == "386" {
			return Win32, nil
		}
		return Win64, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnknownPlatform, goos, goarch)
}

func validPlatform(p Platform) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// URL returns where the given build of browser can be downloaded for platform.
// For Firefox the build id may carry a channel prefix, e.g. "esr_115.9.1esr" or "nightly_137.0a1".
func URL(browser Browser, platform Platform, buildID string) (string, error) {
	if !validPlatform(platform) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	if buildID == "" {
		return "", ErrEmptyBuildID
	}

	switch browser {
	case Chrome, ChromeHeadlessShell, ChromeDriver:
		folder := chromeForTestingFolder(platform)
		return url.JoinPath(chromeForTestingURL, buildID, folder, fmt.Sprintf("%s-%s.zip", browser, folder))
	case Chromium:
		return url.JoinPath(chromiumSnapshotsURL, chromiumFolder(platform), buildID, chromiumArchive(platform, buildID)+".zip")
	case Firefox:
		return firefoxURL(platform, buildID)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBrowser, browser)
}

func chromeForTestingFolder(p Platform) string {
	switch p {
	case Mac:
		return "mac-x64"
	case MacArm:
		return "mac-arm64"
	case Win32:
		return "win32"
	case Win64:
		return "win64"
	}
	// there are no arm64 Linux builds
	return "linux64"
}

func chromiumFolder(p Platform) string {
	switch p {
	case Mac:
		return "Mac"
	case MacArm:
		return "Mac_Arm"
	case Win32:
		return "Win"
	case Win64:
		return "Win_x64"
	}
	return "Linux_x64"
}

func chromiumArchive(p Platform, buildID string) string {
	switch p {
	case Mac, MacArm:
		return "chrome-mac"
	case Win32, Win64:
		if rev, err := strconv.Atoi(buildID); err == nil && rev > chromiumWinRenameRevision {
			return "chrome-win"
		}
		return "chrome-win32"
	}
	return "chrome-linux"
}

type firefoxChannel string

const (
	firefoxStable     firefoxChannel = "stable"
	firefoxESR        firefoxChannel = "esr"
	firefoxDevEdition firefoxChannel = "devedition"
	firefoxBeta       firefoxChannel = "beta"
	firefoxNightly    firefoxChannel = "nightly"
)

var firefoxChannels = []firefoxChannel{firefoxStable, firefoxESR, firefoxDevEdition, firefoxBeta, firefoxNightly}

// parseFirefoxBuildID splits the channel prefix off. Build ids without one are nightlies.
func parseFirefoxBuildID(buildID string) (firefoxChannel, string) {
	for _, c := range firefoxChannels {
		if rest, ok := strings.CutPrefix(buildID, string(c)+"_"); ok {
			return c, rest
		}
	}
	return firefoxNightly, buildID
}

var leadingMajor = regexp.MustCompile(`^(0|[1-9]\d*)\.`)

func firefoxMajor(version string) (uint64, bool) {
	if v, err := semver.NewVersion(version); err == nil {
		return v.Major(), true
	}
	// versions like "115.9.1esr" or "137.0a1" are not semver
	m := leadingMajor.FindStringSubmatch(version)
	if m == nil {
		return 0, false
	}
	major, err := strconv.ParseUint(m[1], 10, 64)
	return major, err == nil
}

func firefoxURL(p Platform, buildID string) (string, error) {
	channel, version := parseFirefoxBuildID(buildID)
	if version == "" {
		return "", ErrEmptyBuildID
	}

	base := firefoxReleasesURL
	if channel == firefoxNightly {
		base = firefoxNightlyURL
	}

	compression := "xz"
	if major, ok := firefoxMajor(version); ok && major < firefoxXZMajor {
		compression = "bz2"
	}

	var platformName, archive string
	switch p {
	case Linux, LinuxArm:
		platformName = "linux-x86_64"
		if p == LinuxArm {
			platformName = "linux-aarch64"
		}
		archive = fmt.Sprintf("firefox-%s.tar.%s", version, compression)
	case Mac, MacArm:
		platformName = "mac"
		archive = fmt.Sprintf("Firefox %s.dmg", version)
	case Win32, Win64:
		platformName = string(p)
		archive = fmt.Sprintf("Firefox Setup %s.exe", version)
	}
	return url.JoinPath(base, version, platformName, "en-US", archive)
}
