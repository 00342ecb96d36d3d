//go:build windows

package recorder

import "os"

// checkWritable creates and removes a temporary file; ACLs make mode bits
// meaningless here.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".screenrec-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
