package upload

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tanyuqing/FileServer/internal/config"
)

func newManager(t *testing.T, scheme string) (*Manager, string) {
	t.Helper()
	params, err := config.ParseUploadParams(scheme)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	return New(root, params, []string{".zip", "tar", ".TAR.GZ", ".tgz", " "}), root
}

func TestResolve(t *testing.T) {
	m, root := newManager(t, config.SchemePlatform)

	testCases := []struct {
		Query   string
		WantRel string
		WantErr error
	}{
		{Query: "platform=android", WantRel: "android"},
		{Query: "platform=%20ios%20&form=debug", WantRel: "ios/debug"},
		{Query: "platform=android&form=", WantRel: "android"},
		{Query: "form=debug", WantErr: ErrMissingParam},
		{Query: "platform=++", WantErr: ErrMissingParam},
		{Query: "platform=..", WantErr: ErrBadParam},
		{Query: "platform=a%2F..%2F..", WantErr: ErrBadParam},
		{Query: "platform=android&form=..%5Cx", WantErr: ErrBadParam},
	}
	for _, tc := range testCases {
		q, err := url.ParseQuery(tc.Query)
		if err != nil {
			t.Fatal(err)
		}
		z, err := m.Resolve(q)
		if !errors.Is(err, tc.WantErr) {
			t.Errorf("Resolve(%q) error = %v, want %v", tc.Query, err, tc.WantErr)
			continue
		}
		if err != nil {
			continue
		}
		if z.Rel != tc.WantRel {
			t.Errorf("Resolve(%q).Rel = %q, want %q", tc.Query, z.Rel, tc.WantRel)
		}
		if want := filepath.Join(root, filepath.FromSlash(tc.WantRel)); z.Dir != want {
			t.Errorf("Resolve(%q).Dir = %q, want %q", tc.Query, z.Dir, want)
		}
	}

	ents, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Errorf("Resolve touched the filesystem: %d entries under root", len(ents))
	}
}

func TestResolveReleaseScheme(t *testing.T) {
	m, _ := newManager(t, config.SchemeRelease)

	q := url.Values{"type": {"game"}, "user": {"alice"}, "platform": {"android"}, "version": {"1.0.3"}}
	z, err := m.Resolve(q)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if z.Rel != "game/alice/android/1.0.3" {
		t.Errorf("Rel = %q", z.Rel)
	}

	q.Del("version")
	var pe *ParamError
	if _, err := m.Resolve(q); !errors.As(err, &pe) || pe.Name != "version" {
		t.Errorf("Resolve without version error = %v, want ParamError for version", err)
	}
}

func TestPrepareWipesPreviousBatch(t *testing.T) {
	m, _ := newManager(t, config.SchemePlatform)
	z, err := m.Resolve(url.Values{"platform": {"android"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Prepare(z); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if z.Wiped {
		t.Error("fresh zone reported as wiped")
	}
	if _, err := m.Save(z, "old.txt", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(z, "nested/old.txt", []byte("old")); err != nil {
		t.Fatal(err)
	}

	z2, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z2); err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if !z2.Wiped {
		t.Error("existing zone not reported as wiped")
	}
	if _, err := m.Save(z2, "new.txt", []byte("new")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"new.txt"}, listFiles(t, z2.Dir)); diff != "" {
		t.Errorf("zone contents mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	m, root := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello\x00\r\n\xff")
	sf, err := m.Save(z, "a.txt", payload)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if want := filepath.Join(root, "android", "a.txt"); sf.Path != want {
		t.Errorf("Path = %q, want %q", sf.Path, want)
	}
	if sf.Size != int64(len(payload)) || len(sf.Sum) != 64 {
		t.Errorf("Size = %d, Sum = %q", sf.Size, sf.Sum)
	}
	got, err := os.ReadFile(sf.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}

	again, err := m.Save(z, "b.txt", payload)
	if err != nil {
		t.Fatal(err)
	}
	if again.Sum != sf.Sum {
		t.Error("identical content produced different digests")
	}
}

func TestSaveConfinesNames(t *testing.T) {
	m, root := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	sf, err := m.Save(z, "../../escape.txt", []byte("x"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if want := filepath.Join(root, "android", "escape.txt"); sf.Path != want {
		t.Errorf("Path = %q, want %q", sf.Path, want)
	}

	if _, err := m.Save(z, "", []byte("x")); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Save(\"\") error = %v, want ErrEmptyName", err)
	}
}

func TestIsArchive(t *testing.T) {
	m, _ := newManager(t, config.SchemePlatform)
	for name, want := range map[string]bool{
		"bundle.zip":    true,
		"BUNDLE.ZIP":    true,
		"assets.tar":    true,
		"assets.tar.gz": true,
		"assets.tgz":    true,
		"readme.txt":    false,
		"zip":           false,
		"archive.gz":    false,
	} {
		if got := m.IsArchive(name); got != want {
			t.Errorf("IsArchive(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExpandZip(t *testing.T) {
	m, _ := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"a.txt":          "A",
		"dir/b.txt":      "B",
		"../outside.txt": "O",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if _, err := zw.Create("empty/"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	sf, err := m.Save(z, "bundle.zip", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.Expand(z, sf)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expand() extracted %d files, want 2", n)
	}
	want := []string{"a.txt", "dir/b.txt"}
	if diff := cmp.Diff(want, listFiles(t, z.Dir)); diff != "" {
		t.Errorf("zone contents mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(z.Dir, "empty")); err != nil {
		t.Errorf("directory entry not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(z.Dir), "outside.txt")); !os.IsNotExist(err) {
		t.Errorf("entry escaped the zone: %v", err)
	}
}

func TestExpandTarGz(t *testing.T) {
	m, _ := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"ios"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	tw.WriteHeader(&tar.Header{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0o755})
	content := []byte("tarred")
	tw.WriteHeader(&tar.Header{Name: "sub/c.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))})
	tw.Write(content)
	tw.WriteHeader(&tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"})
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	sf, err := m.Save(z, "assets.tar.gz", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.Expand(z, sf)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Expand() extracted %d files, want 1", n)
	}
	if diff := cmp.Diff([]string{"sub/c.txt"}, listFiles(t, z.Dir)); diff != "" {
		t.Errorf("zone contents mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandCorruptKeepsArchive(t *testing.T) {
	m, _ := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}
	sf, err := m.Save(z, "broken.zip", []byte("not a zip"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Expand(z, sf); err == nil {
		t.Fatal("Expand() of corrupt archive succeeded")
	}
	if _, err := os.Stat(sf.Path); err != nil {
		t.Errorf("archive removed after failed expansion: %v", err)
	}
}

func TestExpandEntryNamedLikeArchive(t *testing.T) {
	m, root := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	inner := bytes.Repeat([]byte("i"), 5000)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("bundle.zip")
	w.Write(inner)
	w, _ = zw.Create("z.txt")
	w.Write([]byte("z"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	sf, err := m.Save(z, "bundle.zip", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.Expand(z, sf)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expand() extracted %d files, want 2", n)
	}
	if diff := cmp.Diff([]string{"bundle.zip", "z.txt"}, listFiles(t, z.Dir)); diff != "" {
		t.Errorf("zone contents mismatch (-want +got):\n%s", diff)
	}
	got, err := os.ReadFile(filepath.Join(z.Dir, "bundle.zip"))
	if err != nil || !bytes.Equal(got, inner) {
		t.Errorf("bundle.zip holds %d bytes (%v), want the %d byte entry", len(got), err, len(inner))
	}
	if diff := cmp.Diff([]string{"android"}, dirNames(t, root)); diff != "" {
		t.Errorf("root contents mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandFailureKeepsExtractedEntries(t *testing.T) {
	m, root := newManager(t, config.SchemePlatform)
	z, _ := m.Resolve(url.Values{"platform": {"android"}})
	if err := m.Prepare(z); err != nil {
		t.Fatal(err)
	}

	second := bytes.Repeat([]byte("S"), 64)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.CreateHeader(&zip.FileHeader{Name: "first.txt", Method: zip.Store})
	w.Write([]byte("first"))
	w, _ = zw.CreateHeader(&zip.FileHeader{Name: "second.txt", Method: zip.Store})
	w.Write(second)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	// Flip a stored byte of the second entry so its checksum no longer matches.
	data := buf.Bytes()
	i := bytes.Index(data, second)
	if i < 0 {
		t.Fatal("stored entry not found in archive")
	}
	data[i] = 'T'

	sf, err := m.Save(z, "bundle.zip", data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Expand(z, sf); !errors.Is(err, zip.ErrChecksum) {
		t.Fatalf("Expand() error = %v, want zip.ErrChecksum", err)
	}
	if b, err := os.ReadFile(filepath.Join(z.Dir, "first.txt")); err != nil || string(b) != "first" {
		t.Errorf("first.txt = %q, %v; want it kept after the failure", b, err)
	}
	if b, err := os.ReadFile(sf.Path); err != nil || !bytes.Equal(b, data) {
		t.Errorf("archive not restored after failed expansion: %v", err)
	}
	if diff := cmp.Diff([]string{"android"}, dirNames(t, root)); diff != "" {
		t.Errorf("root contents mismatch (-want +got):\n%s", diff)
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names
}

// listFiles returns the regular files under dir as sorted slash paths.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(dir, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}
