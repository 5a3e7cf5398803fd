//go:build linux || darwin

package transport

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// control 在 bind/connect 之前设置 socket 选项
func control(network string, c syscall.RawConn, t Tuning, listening bool) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if t.TTL > 0 {
			if err := setTTL(int(fd), network, t.TTL); err != nil {
				opErr = fmt.Errorf("set ttl: %w", err)
				return
			}
		}

		if listening && strings.HasPrefix(network, "tcp") {
			reuse := 1
			if t.Exclusive {
				reuse = 0
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, reuse); err != nil {
				opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

func setTTL(fd int, network string, ttl int) error {
	if strings.HasSuffix(network, "6") {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

// setBacklog 对已处于监听状态的 socket 再次调用 listen 以更新队列长度
func setBacklog(rc syscall.RawConn, backlog int) error {
	var opErr error
	err := rc.Control(func(fd uintptr) {
		opErr = unix.Listen(int(fd), backlog)
	})
	if err != nil {
		return err
	}
	return opErr
}

// available 返回接收缓冲区中尚未读取的字节数
func available(rc syscall.RawConn) int {
	n := 0
	err := rc.Control(func(fd uintptr) {
		v, err := unix.IoctlGetInt(int(fd), ioctlReadable)
		if err == nil {
			n = v
		}
	})
	if err != nil {
		return 0
	}
	return n
}
