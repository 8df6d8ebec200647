package packaging_test

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// TestDebPackageShipsCoreAssets builds a real deb with nfpm and walks its
// data archive, verifying the runtime assets end up at their installed
// locations.
func TestDebPackageShipsCoreAssets(t *testing.T) {
	packages := buildSmokeTestPackages(t)
	debPath, ok := packages["deb"]
	if !ok {
		t.Fatal("deb package was not built")
	}

	installed := debDataPaths(t, debPath)

	for _, want := range []string{
		"/usr/bin/envhealthd",
		"/etc/envhealthd/config.yaml",
		"/lib/systemd/system/envhealthd.service",
		"/usr/lib/tmpfiles.d/envhealthd.conf",
		"/usr/share/doc/envhealthd/README.Debian",
	} {
		if _, ok := installed[want]; !ok {
			t.Errorf("deb package is missing %s", want)
		}
	}
	if t.Failed() {
		t.Fatalf("package contents were: %v", installed)
	}
}

// debDataPaths extracts the set of file paths inside the deb's data
// archive, keyed by their absolute install path.
func debDataPaths(t testing.TB, debPath string) map[string]struct{} {
	t.Helper()

	file, err := os.Open(debPath)
	if err != nil {
		t.Fatalf("open %s: %v", debPath, err)
	}
	defer file.Close()

	archive := ar.NewReader(file)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			t.Fatalf("no data archive inside %s", debPath)
		}
		if err != nil {
			t.Fatalf("read ar header: %v", err)
		}
		if !strings.HasPrefix(header.Name, "data.tar") {
			continue
		}

		payload, err := decompress(header.Name, archive)
		if err != nil {
			t.Fatalf("decompress %s: %v", header.Name, err)
		}
		return tarPaths(t, tar.NewReader(payload))
	}
}

// decompress wraps the data archive stream according to its extension.
// nfpm emits gzip by default but xz and plain tar also occur in the wild.
func decompress(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".xz"):
		return xz.NewReader(r)
	default:
		return r, nil
	}
}

func tarPaths(t testing.TB, tr *tar.Reader) map[string]struct{} {
	t.Helper()

	paths := make(map[string]struct{})
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return paths
		}
		if err != nil {
			t.Fatalf("read tar entry: %v", err)
		}
		cleaned := path.Clean("/" + strings.TrimPrefix(header.Name, "./"))
		if cleaned != "/" {
			paths[cleaned] = struct{}{}
		}
	}
}
