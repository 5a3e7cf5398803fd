//go:build darwin

package transport

// ioctlReadable FIONREAD，x/sys/unix 在 darwin 上未导出
const ioctlReadable = 0x4004667f
