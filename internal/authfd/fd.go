package authfd

import (
	"fmt"
	"os"
)

// fdFile wraps a numeric file descriptor as an *os.File so it can be
// handed to net.FileConn. The returned *os.File takes ownership of fd.
// net.FileConn works on a duplicate of fd, so closing the resulting
// net.Conn closes that duplicate, not fd itself.
func fdFile(fd int) *os.File {
	return os.NewFile(uintptr(fd), fmt.Sprintf("auth-fd-%d", fd))
}
