package filemap

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildSingleFile(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "bin", "app")
	writeFile(t, app, "binary")

	got, err := Build([]string{app + ":/usr/local/bin/app"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := Map{"usr/local/bin/app": app}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuildRelativeSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bin", "app"), "binary")
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	got, err := Build([]string{"./bin/app:/usr/local/bin/app"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := Map{"usr/local/bin/app": filepath.Join("bin", "app")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuildDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "cfgdir")
	writeFile(t, filepath.Join(cfg, "a.conf"), "a")
	writeFile(t, filepath.Join(cfg, "sub", "b.conf"), "b")
	if err := os.Symlink("a.conf", filepath.Join(cfg, "link.conf")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("sub", filepath.Join(cfg, "linkdir")); err != nil {
		t.Fatal(err)
	}

	got, err := Build([]string{cfg + ":/etc/app"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := Map{
		"etc/app/a.conf":     filepath.Join(cfg, "a.conf"),
		"etc/app/sub/b.conf": filepath.Join(cfg, "sub", "b.conf"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuildSymlinkedDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	writeFile(t, filepath.Join(target, "a.conf"), "a")
	writeFile(t, filepath.Join(target, "sub", "b.conf"), "b")
	if err := os.Symlink("a.conf", filepath.Join(target, "inner-link.conf")); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "cfglink")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	got, err := Build([]string{link + ":/etc/app"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := Map{
		"etc/app/a.conf":     filepath.Join(link, "a.conf"),
		"etc/app/sub/b.conf": filepath.Join(link, "sub", "b.conf"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuildDirectoryEveryRegularFile(t *testing.T) {
	dir := t.TempDir()
	rels := []string{"x", "a/y", "a/b/z", "a/b/c/d/e.txt"}
	for _, rel := range rels {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), rel)
	}

	got, err := Build([]string{dir + ":opt/data/"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got.Len() != len(rels) {
		t.Fatalf("Build() returned %d entries, want %d", got.Len(), len(rels))
	}
	for _, rel := range rels {
		key := "opt/data/" + rel
		if got[key] != filepath.Join(dir, filepath.FromSlash(rel)) {
			t.Errorf("entry %q = %q", key, got[key])
		}
	}
}

func TestBuildDirectoryToRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "etc", "hosts"), "127.0.0.1 localhost")

	got, err := Build([]string{dir + ":/"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got["etc/hosts"] != filepath.Join(dir, "etc", "hosts") {
		t.Errorf("Build() = %v", got)
	}
}

func TestBuildLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	writeFile(t, first, "1")
	writeFile(t, second, "2")

	got, err := Build([]string{
		first + ":/etc/motd",
		second + ":etc/motd",
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(got) != 1 || got["etc/motd"] != second {
		t.Errorf("Build() = %v, want etc/motd -> %s", got, second)
	}
}

func TestBuildNormalizesDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	writeFile(t, src, "f")

	for _, dst := range []string{"/usr/bin/f", "usr/bin/f", "//usr/./bin/f", "/../usr/bin/f", "/usr/lib/../bin/f"} {
		got, err := Build([]string{src + ":" + dst})
		if err != nil {
			t.Fatalf("Build(%q) error: %v", dst, err)
		}
		if _, ok := got["usr/bin/f"]; !ok {
			t.Errorf("Build(%q) = %v, want key usr/bin/f", dst, got)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	writeFile(t, file, "x")

	tests := []struct {
		name string
		atom string
		want error
	}{
		{"no separator", file, ErrEmptyDestination},
		{"empty destination", file + ":", ErrEmptyDestination},
		{"empty destination checked before source", filepath.Join(dir, "missing") + ":", ErrEmptyDestination},
		{"missing source", filepath.Join(dir, "missing") + ":/x", ErrInvalidSource},
		{"file onto root", file + ":/", ErrInvalidDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]string{tt.atom})
			if !errors.Is(err, tt.want) {
				t.Errorf("Build(%q) error = %v, want %v", tt.atom, err, tt.want)
			}
		})
	}
}

func TestBuildRejectsSpecialFile(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null on this platform")
	}
	_, err := Build([]string{"/dev/null:/dev/null"})
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("Build() error = %v, want %v", err, ErrInvalidSource)
	}
}

func TestBuildEmpty(t *testing.T) {
	got, err := Build(nil)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Build(nil) = %v, want empty", got)
	}
}

func TestMapKeys(t *testing.T) {
	m := Map{"b": "1", "a/c": "2", "a": "3"}
	want := []string{"a", "a/c", "b"}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}
