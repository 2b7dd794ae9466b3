package juleaserver

import (
	"context"
	"net"
	"syscall"
)

// listen opens a TCP listener on addr with SO_REUSEADDR set, replacing the
// original implementation's ten-times-with-1-second-sleeps retry around
// g_socket_listener_add_inet_port (see DESIGN.md's resolution of the
// matching Open Question in spec.md §9): SO_REUSEADDR lets a restarted
// daemon rebind a port still in TIME_WAIT from the previous instance
// immediately, instead of polling for it to clear.
func listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}
