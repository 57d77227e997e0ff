package wdpa

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	shp "github.com/jonas-p/go-shp"
)

// Protected Planet ships each release as zip shards holding one
// polygon layer and one point layer.
const (
	polygonSuffix = "-polygons.shp"
	pointSuffix   = "-points.shp"
)

var errNoLayer = errors.New("no layer with that suffix in archive")

// openLayer opens the archive's first .shp member matching the suffix
// together with its .dbf sibling. The returned reader owns the archive
// handle; closing it releases everything.
func openLayer(path, suffix string) (shp.SequentialReader, string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", fmt.Errorf("open archive: %w", err)
	}
	name := memberWithSuffix(&zr.Reader, suffix)
	if name == "" {
		_ = zr.Close()
		return nil, "", errNoLayer
	}
	shpRC, err := openMember(&zr.Reader, name)
	if err != nil {
		_ = zr.Close()
		return nil, "", err
	}
	dbfRC, err := openMember(&zr.Reader, strings.TrimSuffix(name, ".shp")+".dbf")
	if err != nil {
		_ = shpRC.Close()
		_ = zr.Close()
		return nil, "", err
	}
	return &layerReader{
		SequentialReader: shp.SequentialReaderFromExt(shpRC, dbfRC),
		archive:          zr,
	}, name, nil
}

func memberWithSuffix(zr *zip.Reader, suffix string) string {
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, suffix) {
			return f.Name
		}
	}
	return ""
}

func openMember(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("archive member %s: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("archive member %s missing", name)
}

// layerReader closes the zip handle along with the member streams.
type layerReader struct {
	shp.SequentialReader
	archive *zip.ReadCloser
}

func (r *layerReader) Close() error {
	_ = r.SequentialReader.Close()
	return r.archive.Close()
}
