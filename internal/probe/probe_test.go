package probe

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer accepts connections and hands the request line to reply.
type fakeServer struct {
	ln       net.Listener
	requests chan string
}

func startServer(t *testing.T, reply func(conn net.Conn, request string)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{ln: ln, requests: make(chan string, 16)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, _ := bufio.NewReader(c).ReadString('\n')
				s.requests <- line
				reply(c, line)
			}(conn)
		}
	}()
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func staticReply(body string) func(net.Conn, string) {
	return func(c net.Conn, _ string) {
		c.Write([]byte(body))
	}
}

func TestQuery_Plugged(t *testing.T) {
	srv := startServer(t, staticReply("battery_power_plugged: true\n"))
	p := New(srv.addr(), time.Second, zap.NewNop())

	out := p.Query(context.Background())
	if out.Failed() {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.State != Plugged {
		t.Errorf("State = %v, want plugged", out.State)
	}
	if got := <-srv.requests; got != "get battery_power_plugged\n" {
		t.Errorf("request = %q, want %q", got, "get battery_power_plugged\n")
	}
}

func TestQuery_Unplugged(t *testing.T) {
	srv := startServer(t, staticReply("battery_power_plugged: false\n"))
	p := New(srv.addr(), time.Second, zap.NewNop())

	out := p.Query(context.Background())
	if out.Failed() {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.State != Unplugged {
		t.Errorf("State = %v, want unplugged", out.State)
	}
}

func TestQuery_EmptyReplyIsMalformedButPlugged(t *testing.T) {
	srv := startServer(t, staticReply(""))
	p := New(srv.addr(), time.Second, zap.NewNop())

	out := p.Query(context.Background())
	if out.State != Plugged {
		t.Errorf("State = %v, want plugged", out.State)
	}
	if !errors.Is(out.Err, ErrMalformedResponse) {
		t.Errorf("Err = %v, want ErrMalformedResponse", out.Err)
	}
}

func TestQuery_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := New(addr, 200*time.Millisecond, zap.NewNop())
	out := p.Query(context.Background())
	if out.State != Plugged {
		t.Errorf("State = %v, want fail-open plugged", out.State)
	}
	if !errors.Is(out.Err, ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", out.Err)
	}
}

func TestQuery_HungServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := startServer(t, func(net.Conn, string) { <-release })

	p := New(srv.addr(), 100*time.Millisecond, zap.NewNop())
	start := time.Now()
	out := p.Query(context.Background())

	if !errors.Is(out.Err, ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", out.Err)
	}
	if out.State != Plugged {
		t.Errorf("State = %v, want fail-open plugged", out.State)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("query took %v, want it bounded by the timeout", elapsed)
	}
}

func TestQuery_ReplyWithoutCloseReturnsPromptly(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := startServer(t, func(c net.Conn, _ string) {
		c.Write([]byte("battery_power_plugged: false\n"))
		<-release
	})

	p := New(srv.addr(), 2*time.Second, zap.NewNop())
	start := time.Now()
	out := p.Query(context.Background())

	if out.Failed() || out.State != Unplugged {
		t.Fatalf("Outcome = %+v, want unplugged without error", out)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("query took %v, want return as soon as the field line arrived", elapsed)
	}
}

func TestBatteryLevel(t *testing.T) {
	srv := startServer(t, func(c net.Conn, req string) {
		if req == "get battery\n" {
			c.Write([]byte("battery: 87.5\n"))
		}
	})
	p := New(srv.addr(), time.Second, zap.NewNop())

	level, err := p.BatteryLevel(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if level != 87.5 {
		t.Errorf("level = %v, want 87.5", level)
	}
}

func TestBatteryLevel_Malformed(t *testing.T) {
	srv := startServer(t, staticReply("battery: lots\n"))
	p := New(srv.addr(), time.Second, zap.NewNop())

	if _, err := p.BatteryLevel(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		reply         string
		want          PowerState
		wantMalformed bool
	}{
		{"battery_power_plugged: true", Plugged, false},
		{"battery_power_plugged: false", Unplugged, false},
		{"noise\nbattery_power_plugged: false\n", Unplugged, false},
		{"battery_power_plugged:false", Plugged, true},
		{"battery_power_plugged: maybe", Plugged, true},
		{"battery_power_plugged:", Plugged, true},
		{"", Plugged, true},
		{"Invalid request.", Plugged, true},
		{"battery: 42", Plugged, true},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			out := Classify(tt.reply)
			if out.State != tt.want {
				t.Errorf("Classify(%q).State = %v, want %v", tt.reply, out.State, tt.want)
			}
			if got := errors.Is(out.Err, ErrMalformedResponse); got != tt.wantMalformed {
				t.Errorf("Classify(%q) malformed = %v, want %v", tt.reply, got, tt.wantMalformed)
			}
		})
	}
}
