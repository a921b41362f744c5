// Package validate applies the limits from spec §4.5 step 1 and step 3:
// the file must exist and fit within a byte-size limit before it is read,
// and the decoded image must fit within a pixel-dimension limit afterward.
package validate

import (
	"fmt"
	"os"

	"github.com/hejijunhao/photon/internal/perr"
)

// File stats path and checks it exists and is within maxBytes. A file
// exactly at the limit passes; one byte over fails with KindFileTooLarge.
func File(path string, maxBytes int64) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, perr.New(perr.KindFileNotFound, "check the path and permissions", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, perr.New(perr.KindFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d bytes", info.Size(), maxBytes),
			fmt.Errorf("%s exceeds size limit", path))
	}
	return info, nil
}

// Dimensions checks decoded pixel dimensions against maxEdge (the longer of
// width/height). An image exactly at the limit passes; one pixel over fails
// with KindImageTooLarge.
func Dimensions(width, height, maxEdge int) error {
	if maxEdge <= 0 {
		return nil
	}
	longest := width
	if height > longest {
		longest = height
	}
	if longest > maxEdge {
		return perr.New(perr.KindImageTooLarge,
			fmt.Sprintf("image is %dx%d, longest edge limit is %d", width, height, maxEdge),
			fmt.Errorf("decoded dimensions exceed limit"))
	}
	return nil
}
