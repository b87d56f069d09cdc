//go:build linux

package systemd

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestNotifier() *Notifier {
	return NewNotifier(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func receive(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(buf[:n])
}

func TestNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := newTestNotifier()
	if n.Ready() || n.Stopping() || n.Status("idle") {
		t.Error("notification sent without NOTIFY_SOCKET")
	}
}

func TestNotifierMessages(t *testing.T) {
	conn := listen(t)
	n := newTestNotifier()

	tests := []struct {
		name string
		send func() bool
		want string
	}{
		{"ready", n.Ready, "READY=1"},
		{"status", func() bool { return n.Status("%d cameras", 2) }, "STATUS=2 cameras"},
		{"stopping", n.Stopping, "STOPPING=1"},
	}
	for _, tt := range tests {
		if !tt.send() {
			t.Fatalf("%s: not sent", tt.name)
		}
		if got := receive(t, conn); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
