package deploy

import (
	"hash/crc32"
	"io"
)

// Checksum fingerprints r's content. CRC32 matches the original
// implementation's own ChecksumUtils; no ecosystem checksum library
// appears anywhere in the examples pack, so this stays on the standard
// library's hash/crc32.
func Checksum(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
