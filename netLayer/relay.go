package netLayer

import (
	"io"
	"net"
)

// Relay copies data between the two connections in both directions and
// returns after both sides are done. Closing either side unblocks the other
// copy.
func Relay(left, right net.Conn) {
	done := make(chan struct{})
	go func() {
		io.Copy(right, left)
		right.Close()
		close(done)
	}()
	io.Copy(left, right)
	left.Close()
	<-done
}
