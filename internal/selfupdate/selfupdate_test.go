package selfupdate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.10.0", "1.9.0", 1},
		{"2.0.0", "1.99.99", 1},
		{"v0.1.0", "v0.1.0", 0},
		{"0.1.0", "v0.1.1", -1},
		{"V1.2.3", "1.2.2", 1},
		{"v1.2", "v1.2.0", 0},
		{"v1", "v2", -1},
		{"1.0.0-beta", "1.0.0", -1},
		{"build_10", "build_9", 1},
		{"dev", "1.0.0", 1},
	}
	for _, tc := range tests {
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			t.Parallel()
			if got := CompareVersions(tc.a, tc.b); got != tc.want {
				t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := CompareVersions(tc.b, tc.a); got != -tc.want {
				t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func TestParseChecksums(t *testing.T) {
	t.Parallel()

	data := []byte(`
# comment
0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef  foundry-setup-1.2.0.exe
aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa *foundry-1.2.0-arm64.dmg
`)
	m, err := parseChecksums(data)
	if err != nil {
		t.Fatalf("parseChecksums: %v", err)
	}
	if got := m["foundry-setup-1.2.0.exe"]; got == "" {
		t.Fatalf("missing exe checksum")
	}
	if got := m["foundry-1.2.0-arm64.dmg"]; got == "" {
		t.Fatalf("missing dmg checksum")
	}

	if _, err := parseChecksums([]byte("deadbeef file.exe\n")); err == nil {
		t.Fatalf("expected error for short sum")
	}
	if _, err := parseChecksums([]byte("# only comments\n")); err == nil {
		t.Fatalf("expected error for empty checksums")
	}
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "app.exe")
	if err := os.WriteFile(p, []byte("installer"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sum, err := sha256File(p)
	if err != nil {
		t.Fatalf("sha256File: %v", err)
	}

	if err := verifyFile(p, "app.exe", map[string]string{"app.exe": sum}); err != nil {
		t.Fatalf("verifyFile: %v", err)
	}
	if err := verifyFile(p, "app.exe", map[string]string{"other.exe": sum}); err == nil {
		t.Fatalf("expected missing entry error")
	}
	bad := "0000000000000000000000000000000000000000000000000000000000000000"
	if err := verifyFile(p, "app.exe", map[string]string{"app.exe": bad}); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestCleanupStaleInstallers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"old.exe", "old-arm64.DMG", "keep.dmg", "notes.txt", "app.exe.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.exe"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if err := CleanupStaleInstallers(dir, filepath.Join(dir, "keep.dmg")); err != nil {
		t.Fatalf("CleanupStaleInstallers: %v", err)
	}

	for name, want := range map[string]bool{
		"old.exe":       false,
		"old-arm64.DMG": false,
		"keep.dmg":      true,
		"notes.txt":     true,
		"app.exe.part":  false,
		"sub.exe":       true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if got := err == nil; got != want {
			t.Fatalf("%s exists=%v, want %v", name, got, want)
		}
	}

	if err := CleanupStaleInstallers(filepath.Join(dir, "missing"), ""); err != nil {
		t.Fatalf("missing dir: %v", err)
	}
}
