//go:build linux

package transport

import "golang.org/x/sys/unix"

// ioctlReadable 即 FIONREAD，linux 上的名字是 TIOCINQ
const ioctlReadable = unix.TIOCINQ
