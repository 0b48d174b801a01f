package archive

import (
	"archive/zip"
	"os"
)

// writeMaliciousZip builds a zip file containing a path-traversal entry,
// used to exercise Restore's rejection of unsafe archive paths.
func writeMaliciousZip(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("../evil.txt")
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("escape attempt")); err != nil {
		return err
	}
	return zw.Close()
}
