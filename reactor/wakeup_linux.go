//go:build linux

// File: reactor/wakeup_linux.go
// Author: momentics <momentics@gmail.com>
//
// eventfd-based cross-thread wakeup for a blocked epoll_wait.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func newWakeFd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("eventfd: %w", err)
	}
	return fd, nil
}

// signalWakeFd bumps the eventfd counter. EAGAIN means the counter is
// saturated, which still leaves it readable.
func signalWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

// drainWakeFd resets the counter to zero.
func drainWakeFd(fd int) error {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}
