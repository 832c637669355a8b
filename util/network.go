package util

import (
	"net"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RemoteString returns a printable peer address for conn, or "unknown"
// when the transport does not report one (SSH forwarded channels may
// omit it).
func RemoteString(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return "unknown"
	}
	s := conn.RemoteAddr().String()
	if s == "" || s == ":0" {
		return "unknown"
	}
	return s
}
