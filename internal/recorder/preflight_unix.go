//go:build !windows

package recorder

import "golang.org/x/sys/unix"

func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
