package camera

import (
	"bytes"
	"fmt"
)

var (
	jpegSOI = []byte{0xFF, 0xD8} // start of image
	jpegEOI = []byte{0xFF, 0xD9} // end of image
)

// ProbeJPEG checks that data carries the JPEG start-of-image and
// end-of-image signatures. It is intended as an advisory content probe
// for a receive session: a failure suggests corruption but the byte
// count remains the completion criterion.
func ProbeJPEG(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("camera: %d bytes is too short for a JPEG", len(data))
	}

	if !bytes.HasPrefix(data, jpegSOI) {
		return fmt.Errorf("camera: missing JPEG SOI signature, got %02X %02X", data[0], data[1])
	}

	if !bytes.HasSuffix(data, jpegEOI) {
		return fmt.Errorf("camera: missing JPEG EOI signature, got %02X %02X",
			data[len(data)-2], data[len(data)-1])
	}

	return nil
}
