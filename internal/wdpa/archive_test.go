package wdpa

import (
	"archive/zip"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeZip(t *testing.T, dir, name string, members ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m)
		if err != nil {
			t.Fatalf("zip member %s: %v", m, err)
		}
		if _, err := w.Write([]byte("stub")); err != nil {
			t.Fatalf("zip write %s: %v", m, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
	return path
}

func TestOpenLayerPicksSuffixMemberWithSibling(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "shard.zip",
		"readme.txt",
		"WDPA_shard-polygons.shp",
		"WDPA_shard-polygons.dbf",
		"WDPA_shard-points.shp",
		"WDPA_shard-points.dbf",
	)

	rd, name, err := openLayer(path, polygonSuffix)
	if err != nil {
		t.Fatalf("openLayer: %v", err)
	}
	defer rd.Close()
	if name != "WDPA_shard-polygons.shp" {
		t.Fatalf("picked member %q", name)
	}
}

func TestOpenLayerMissingDBFSibling(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "shard.zip", "WDPA_shard-polygons.shp")

	_, _, err := openLayer(path, polygonSuffix)
	if err == nil || !strings.Contains(err.Error(), "WDPA_shard-polygons.dbf") {
		t.Fatalf("err = %v, want the missing dbf named", err)
	}
}

func TestOpenLayerNoSuchLayer(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "shard.zip", "readme.txt")

	_, _, err := openLayer(path, polygonSuffix)
	if !errors.Is(err, errNoLayer) {
		t.Fatalf("err = %v, want errNoLayer", err)
	}
}

func TestOpenLayerMissingArchive(t *testing.T) {
	_, _, err := openLayer(filepath.Join(t.TempDir(), "nope.zip"), polygonSuffix)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}
