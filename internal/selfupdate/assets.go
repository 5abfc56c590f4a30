package selfupdate

import (
	"path"
	"strings"
)

const ChecksumsAssetName = "checksums.txt"

// NormalizePlatform maps Node/Electron style platform and arch names onto
// GOOS/GOARCH values.
func NormalizePlatform(goos, goarch string) (string, string) {
	goos = strings.ToLower(strings.TrimSpace(goos))
	goarch = strings.ToLower(strings.TrimSpace(goarch))

	switch goos {
	case "win32", "win":
		goos = "windows"
	case "macos", "mac", "osx":
		goos = "darwin"
	}
	switch goarch {
	case "x64", "x86_64":
		goarch = "amd64"
	case "ia32", "x86", "i386":
		goarch = "386"
	case "aarch64":
		goarch = "arm64"
	}
	return goos, goarch
}

// SelectInstallerAsset picks the installer for goos/goarch. The first matching
// rule wins and nil means the release has nothing for this platform:
//
//	windows amd64/arm64: *.exe without "ia32"
//	windows other:       *.exe with "ia32"
//	darwin arm64:        *.dmg with "arm64"
//	darwin other:        *.dmg with "x64", else any *.dmg without "arm64"
func SelectInstallerAsset(assets []Asset, goos, goarch string) *SelectedAsset {
	goos, goarch = NormalizePlatform(goos, goarch)

	var match func(name string) bool
	var fallback func(name string) bool

	switch goos {
	case "windows":
		if goarch == "amd64" || goarch == "arm64" {
			match = func(n string) bool { return strings.HasSuffix(n, ".exe") && !strings.Contains(n, "ia32") }
		} else {
			match = func(n string) bool { return strings.HasSuffix(n, ".exe") && strings.Contains(n, "ia32") }
		}
	case "darwin":
		if goarch == "arm64" {
			match = func(n string) bool { return strings.Contains(n, "arm64") && strings.HasSuffix(n, ".dmg") }
		} else {
			match = func(n string) bool { return strings.Contains(n, "x64") && strings.HasSuffix(n, ".dmg") }
			fallback = func(n string) bool { return strings.HasSuffix(n, ".dmg") && !strings.Contains(n, "arm64") }
		}
	default:
		return nil
	}

	if a := firstAsset(assets, match); a != nil {
		return toSelected(a)
	}
	if fallback != nil {
		if a := firstAsset(assets, fallback); a != nil {
			return toSelected(a)
		}
	}
	return nil
}

func firstAsset(assets []Asset, match func(lowerName string) bool) *Asset {
	for i := range assets {
		if match(strings.ToLower(assets[i].Name)) {
			return &assets[i]
		}
	}
	return nil
}

func toSelected(a *Asset) *SelectedAsset {
	return &SelectedAsset{
		DownloadURL: a.DownloadURL,
		FileName:    path.Base(strings.ReplaceAll(a.Name, "\\", "/")),
	}
}

func findAssetByName(assets []Asset, want string) (*Asset, bool) {
	for i := range assets {
		if assets[i].Name == want {
			return &assets[i], true
		}
	}
	return nil, false
}
