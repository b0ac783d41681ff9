package supervisor

import (
	"fmt"
	"net"
	"testing"
)

func TestPickFreePort(t *testing.T) {
	port, err := PickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("implausible port %d", port)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port %d not actually free: %v", port, err)
	}
	_ = l.Close()
}

func TestPickPortInRange(t *testing.T) {
	// occupy one port and make it the start of the range
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	port, err := PickPortInRange("127.0.0.1", busy, busy+20)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if port == busy {
		t.Fatalf("picked the occupied port %d", port)
	}
	if port < busy || port > busy+20 {
		t.Fatalf("port %d outside range", port)
	}
}
