/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package compression provides the sealed set of WAL/base-backup
// compression drivers as tagged variants behind a small capability
// interface.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a supported compression scheme. The empty string means
// "no compression".
type Algorithm string

// The supported algorithms.
const (
	None Algorithm = ""
	Gzip Algorithm = "gzip"
	LZ4  Algorithm = "lz4"
	ZSTD Algorithm = "zstd"
)

// Extension returns the file extension xlog.db and the wals/ tree use for
// files compressed with a.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case LZ4:
		return ".lz4"
	case ZSTD:
		return ".zst"
	default:
		return ""
	}
}

// Driver is the small capability interface every compression variant
// implements: wrap a writer/reader pair so callers can stream through it
// without knowing which concrete algorithm is in play.
type Driver interface {
	Algorithm() Algorithm
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Get resolves an Algorithm to its Driver. An unknown algorithm is a
// configuration error the caller should surface as barmanerrors.KindConfigError.
func Get(a Algorithm) (Driver, error) {
	switch a {
	case None:
		return noneDriver{}, nil
	case Gzip:
		return gzipDriver{}, nil
	case LZ4:
		return lz4Driver{}, nil
	case ZSTD:
		return zstdDriver{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", a)
	}
}

type noneDriver struct{}

func (noneDriver) Algorithm() Algorithm { return None }
func (noneDriver) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}
func (noneDriver) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type gzipDriver struct{}

func (gzipDriver) Algorithm() Algorithm { return Gzip }
func (gzipDriver) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}
func (gzipDriver) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type lz4Driver struct{}

func (lz4Driver) Algorithm() Algorithm { return LZ4 }
func (lz4Driver) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
func (lz4Driver) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type zstdDriver struct{}

func (zstdDriver) Algorithm() Algorithm { return ZSTD }
func (zstdDriver) NewWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
func (zstdDriver) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
