//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyReopen delivers SIGHUP so log rotation tools can ask for the log
// file to be reopened.
func notifyReopen(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGHUP)
}
