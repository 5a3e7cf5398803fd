//go:build !linux && !darwin

package transport

import "syscall"

func control(string, syscall.RawConn, Tuning, bool) error { return nil }

func setBacklog(syscall.RawConn, int) error { return nil }

func available(syscall.RawConn) int { return 0 }
