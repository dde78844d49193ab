// Package archive provides fetchz stages that decompress downloaded bytes.
//
// Single-member formats (gzip) map bytes to bytes. Multi-member formats (zip,
// tar) map bytes to a slice of Member values, in archive order, which a
// pipeline usually feeds through fetchz.Map:
//
//	rows := fetchz.Then4(
//	    fetchz.Download(conn),
//	    archive.Unzip(archive.Options{Password: os.Getenv("EXPORT_PASSWORD")}),
//	    fetchz.Map(fetchz.Then(archive.Data(), parse.CSV(parse.Options{}))),
//	    fetchz.Concat[fetchz.Record](),
//	)
//
// Every failure is a *fetchz.DecodeError.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/zoobzio/fetchz"
)

// Member is one file extracted from a multi-member archive.
type Member struct {
	Name string
	Data []byte
}

// Options configures Unzip.
type Options struct {
	// Password decrypts ZipCrypto-encrypted members. Unencrypted members
	// are read normally whether or not a password is set.
	Password string
}

var (
	errPasswordRequired = errors.New("member is encrypted and no password was given")
	errUnsafePath       = errors.New("member path escapes the archive root")
)

// Ungzip returns a stage that decompresses gzip data. Concatenated gzip
// streams are decompressed as one.
func Ungzip() fetchz.Processor[[]byte, []byte] {
	return fetchz.Apply("ungzip", func(_ context.Context, data []byte) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &fetchz.DecodeError{Format: "gzip", Err: err}
		}
		defer r.Close()

		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &fetchz.DecodeError{Format: "gzip", Member: r.Name, Err: err}
		}
		return out, nil
	})
}

// Unzip returns a stage that extracts every regular file of a zip archive.
// Directory entries are skipped. A wrong password, a corrupt member or an
// unsupported compression method fails the whole stage.
func Unzip(opts Options) fetchz.Processor[[]byte, []Member] {
	return fetchz.Apply("unzip", func(_ context.Context, data []byte) ([]Member, error) {
		src := bytes.NewReader(data)
		zr, err := zip.NewReader(src, int64(len(data)))
		if err != nil {
			return nil, &fetchz.DecodeError{Format: "zip", Err: err}
		}

		members := make([]Member, 0, len(zr.File))
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if !safePath(f.Name) {
				return nil, &fetchz.DecodeError{Format: "zip", Member: f.Name, Err: errUnsafePath}
			}

			var content []byte
			if f.Flags&flagEncrypted != 0 {
				if opts.Password == "" {
					return nil, &fetchz.DecodeError{Format: "zip", Member: f.Name, Err: errPasswordRequired}
				}
				content, err = readEncrypted(src, int64(len(data)), f, []byte(opts.Password))
			} else {
				content, err = readPlain(f)
			}
			if err != nil {
				return nil, &fetchz.DecodeError{Format: "zip", Member: f.Name, Err: err}
			}
			members = append(members, Member{Name: f.Name, Data: content})
		}
		return members, nil
	})
}

func readPlain(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Untar returns a stage that extracts every regular file of a tar archive.
// Members whose path would escape the archive root are rejected.
func Untar() fetchz.Processor[[]byte, []Member] {
	return fetchz.Apply("untar", func(_ context.Context, data []byte) ([]Member, error) {
		tr := tar.NewReader(bytes.NewReader(data))
		var members []Member
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, &fetchz.DecodeError{Format: "tar", Err: err}
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			if !safePath(hdr.Name) {
				return nil, &fetchz.DecodeError{Format: "tar", Member: hdr.Name, Err: errUnsafePath}
			}
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, &fetchz.DecodeError{Format: "tar", Member: hdr.Name, Err: err}
			}
			members = append(members, Member{Name: hdr.Name, Data: content})
		}
		if members == nil {
			members = []Member{}
		}
		return members, nil
	})
}

// Data returns a stage that maps a member to its content.
func Data() fetchz.Processor[Member, []byte] {
	return fetchz.Transform("member_data", func(_ context.Context, m Member) []byte {
		return m.Data
	})
}

// Names returns a stage that maps members to their names.
func Names() fetchz.Processor[[]Member, []string] {
	return fetchz.Transform("member_names", func(_ context.Context, members []Member) []string {
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Name
		}
		return names
	})
}

func safePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}
