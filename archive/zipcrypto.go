package archive

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8
	cryptHeaderLen     = 12
)

var (
	errWrongPassword = errors.New("wrong password")
	errMemberSize    = errors.New("member size exceeds the archive")
)

// zipCrypto holds the traditional PKWARE encryption state.
type zipCrypto struct {
	keys [3]uint32
}

func newZipCrypto(password []byte) *zipCrypto {
	z := &zipCrypto{keys: [3]uint32{0x12345678, 0x23456789, 0x34567890}}
	for _, b := range password {
		z.update(b)
	}
	return z
}

func crcUpdate(crc uint32, b byte) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ (crc >> 8)
}

func (z *zipCrypto) update(b byte) {
	z.keys[0] = crcUpdate(z.keys[0], b)
	z.keys[1] += z.keys[0] & 0xff
	z.keys[1] = z.keys[1]*134775813 + 1
	z.keys[2] = crcUpdate(z.keys[2], byte(z.keys[1]>>24))
}

func (z *zipCrypto) stream() byte {
	t := (z.keys[2] | 2) & 0xffff
	return byte((t * (t ^ 1)) >> 8)
}

func (z *zipCrypto) decrypt(buf []byte) {
	for i, c := range buf {
		p := c ^ z.stream()
		z.update(p)
		buf[i] = p
	}
}

// readEncrypted decrypts and decompresses one ZipCrypto member read straight
// from the size bytes of src, then verifies its CRC. The member must lie
// entirely inside src.
func readEncrypted(src io.ReaderAt, size int64, f *zip.File, password []byte) ([]byte, error) {
	offset, err := f.DataOffset()
	if err != nil {
		return nil, err
	}
	if f.CompressedSize64 < cryptHeaderLen {
		return nil, io.ErrUnexpectedEOF
	}
	if offset < 0 || offset > size || f.CompressedSize64 > uint64(size-offset) {
		return nil, errMemberSize
	}

	raw := make([]byte, f.CompressedSize64)
	if _, err := io.ReadFull(io.NewSectionReader(src, offset, int64(f.CompressedSize64)), raw); err != nil {
		return nil, err
	}

	z := newZipCrypto(password)
	z.decrypt(raw)

	check := byte(f.CRC32 >> 24)
	if f.Flags&flagDataDescriptor != 0 {
		check = byte(f.ModifiedTime >> 8)
	}
	if raw[cryptHeaderLen-1] != check {
		return nil, errWrongPassword
	}
	body := raw[cryptHeaderLen:]

	var content []byte
	switch f.Method {
	case zip.Store:
		content = body
	case zip.Deflate:
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		if content, err = io.ReadAll(fr); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compression method %d: %w", f.Method, zip.ErrAlgorithm)
	}

	if crc32.ChecksumIEEE(content) != f.CRC32 {
		return nil, fmt.Errorf("%w: %w", errWrongPassword, zip.ErrChecksum)
	}
	return content, nil
}
