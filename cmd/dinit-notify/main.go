// Command dinit-notify is the readiness-notification helper a
// waits_for_readiness service execs (or shells out to) once it considers
// itself ready, analogous to systemd-notify. It reads the file descriptor
// number from the env var internal/supervisor.Driver.BringUp advertised
// (named by Settings.ReadinessFDVar) and writes a single byte to it, which
// is exactly what Driver.watch's readyR.Read is waiting to see.
package main

import (
	"fmt"
	"os"
	"strconv"
)

func main() {
	varName := "NOTIFY_FD"
	if len(os.Args) > 1 {
		varName = os.Args[1]
	}

	val := os.Getenv(varName)
	if val == "" {
		_, _ = fmt.Fprintf(os.Stderr, "dinit-notify: %s is not set; not running under a waits_for_readiness service?\n", varName)
		os.Exit(1)
	}

	fd, err := strconv.Atoi(val)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "dinit-notify: %s=%q is not a valid file descriptor number: %v\n", varName, val, err)
		os.Exit(1)
	}

	f := os.NewFile(uintptr(fd), "readiness-pipe")
	if f == nil {
		_, _ = fmt.Fprintf(os.Stderr, "dinit-notify: fd %d is not open\n", fd)
		os.Exit(1)
	}
	defer f.Close()

	if _, err := f.Write([]byte{1}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "dinit-notify: writing readiness byte: %v\n", err)
		os.Exit(1)
	}
}
