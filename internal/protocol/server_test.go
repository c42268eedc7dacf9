package protocol

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/numacfg"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/store"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
)

func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	topo := topology.Fixed(2, 4)
	mgr := numa.NewManager(topo, numacfg.NewStore(numacfg.Default(2)))
	st := store.New(mgr, 16)
	mgr.Start()

	server := NewServer(":0", st, mgr)
	go func() {
		server.Start()
	}()

	addr := waitForServer(t, server, 2*time.Second)
	return addr, func() {
		server.Stop()
		mgr.Stop()
	}
}

func waitForServer(t *testing.T, s *Server, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		addr := s.Addr()
		if addr != ":0" && addr != "" {
			if conn, err := net.Dial("tcp", addr); err == nil {
				conn.Close()
				return addr
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start in time")
	return ""
}

// respCmd encodes one command as a RESP array.
func respCmd(args ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(a), a)
	}
	return sb.String()
}

// roundTrip writes one command and returns the raw reply.
func roundTrip(t *testing.T, conn net.Conn, args ...string) string {
	t.Helper()
	if _, err := conn.Write([]byte(respCmd(args...))); err != nil {
		t.Fatalf("write %v: %v", args, err)
	}
	buf := make([]byte, 64*1024)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply to %v: %v", args, err)
	}
	return string(buf[:n])
}

func dialTest(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestPingEcho(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	if got := roundTrip(t, conn, "PING"); got != "+PONG\r\n" {
		t.Errorf("PING = %q", got)
	}
	if got := roundTrip(t, conn, "ECHO", "hi"); got != "$2\r\nhi\r\n" {
		t.Errorf("ECHO = %q", got)
	}
}

func TestSetGetDelExists(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	if got := roundTrip(t, conn, "SET", "foo", "bar"); got != "+OK\r\n" {
		t.Fatalf("SET = %q", got)
	}
	if got := roundTrip(t, conn, "GET", "foo"); got != "$3\r\nbar\r\n" {
		t.Errorf("GET = %q", got)
	}
	if got := roundTrip(t, conn, "EXISTS", "foo", "nope"); got != ":1\r\n" {
		t.Errorf("EXISTS = %q", got)
	}
	if got := roundTrip(t, conn, "DBSIZE"); got != ":1\r\n" {
		t.Errorf("DBSIZE = %q", got)
	}
	if got := roundTrip(t, conn, "DEL", "foo"); got != ":1\r\n" {
		t.Errorf("DEL = %q", got)
	}
	if got := roundTrip(t, conn, "GET", "foo"); got != "$-1\r\n" {
		t.Errorf("GET after DEL = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	got := roundTrip(t, conn, "WIBBLE")
	if !strings.HasPrefix(got, "-ERR unknown command") {
		t.Errorf("WIBBLE = %q", got)
	}
}

func TestLowercaseCommands(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	if got := roundTrip(t, conn, "set", "k", "v"); got != "+OK\r\n" {
		t.Errorf("set = %q", got)
	}
	if got := roundTrip(t, conn, "get", "k"); got != "$1\r\nv\r\n" {
		t.Errorf("get = %q", got)
	}
}

func TestConfigGetSet(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	got := roundTrip(t, conn, "CONFIG", "GET", "strategy")
	want := "*2\r\n$8\r\nstrategy\r\n$11\r\nlocal_first\r\n"
	if got != want {
		t.Errorf("CONFIG GET strategy = %q, want %q", got, want)
	}

	if got := roundTrip(t, conn, "CONFIG", "SET", "strategy", "interleave"); got != "+OK\r\n" {
		t.Fatalf("CONFIG SET = %q", got)
	}
	got = roundTrip(t, conn, "CONFIG", "GET", "strategy")
	if !strings.Contains(got, "interleave") {
		t.Errorf("CONFIG GET after SET = %q", got)
	}

	got = roundTrip(t, conn, "CONFIG", "SET", "migrate_threshold", "99")
	if !strings.HasPrefix(got, "-ERR") {
		t.Errorf("out-of-range threshold accepted: %q", got)
	}

	got = roundTrip(t, conn, "CONFIG", "GET")
	if !strings.Contains(got, "strategy") || !strings.Contains(got, "decay_period") {
		t.Errorf("bare CONFIG GET = %q", got)
	}

	got = roundTrip(t, conn, "CONFIG", "STATS")
	for _, field := range []string{
		"node_0_small_bytes:", "node_1_large_bytes:",
		"total_migrations:", "migrations_dropped:",
		"remote_accesses:", "queue_depth:",
	} {
		if !strings.Contains(got, field) {
			t.Errorf("CONFIG STATS missing %q: %q", field, got)
		}
	}
}

func TestMigrateKeyAndStats(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	if got := roundTrip(t, conn, "SET", "k", strings.Repeat("v", 500)); got != "+OK\r\n" {
		t.Fatalf("SET = %q", got)
	}

	got := roundTrip(t, conn, "MIGRATE", "KEY", "missing", "1")
	if !strings.HasPrefix(got, "-ERR no such key") {
		t.Errorf("MIGRATE missing key = %q", got)
	}
	got = roundTrip(t, conn, "MIGRATE", "KEY", "k", "7")
	if !strings.HasPrefix(got, "-ERR no such node") {
		t.Errorf("MIGRATE bad node = %q", got)
	}

	// The key's home depends on the accessing CPU, so bounce it through
	// both nodes; at least one hop is a real migration.
	if got := roundTrip(t, conn, "MIGRATE", "KEY", "k", "0"); got != "+OK\r\n" {
		t.Fatalf("MIGRATE KEY 0 = %q", got)
	}
	if got := roundTrip(t, conn, "MIGRATE", "KEY", "k", "1"); got != "+OK\r\n" {
		t.Fatalf("MIGRATE KEY 1 = %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got = roundTrip(t, conn, "MIGRATE", "STATS")
		if !strings.Contains(got, "completed:0\r\n") && strings.Contains(got, "queue_depth:0") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("migration never completed, stats = %q", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if strings.Contains(got, "dropped:1") {
		t.Errorf("forced migration dropped, stats = %q", got)
	}

	// Value intact on the new home.
	if got := roundTrip(t, conn, "GET", "k"); !strings.HasPrefix(got, "$500\r\n") {
		t.Errorf("GET after migration = %.40q", got)
	}
}

func TestStatsAndRebalance(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	roundTrip(t, conn, "SET", "k", "v")

	got := roundTrip(t, conn, "STATS")
	if !strings.Contains(got, "# Node 0") || !strings.Contains(got, "pressure:") {
		t.Errorf("STATS = %q", got)
	}
	if got := roundTrip(t, conn, "REBALANCE"); got != "+OK\r\n" {
		t.Errorf("REBALANCE = %q", got)
	}
}

func TestFlushDB(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	roundTrip(t, conn, "SET", "a", "1")
	roundTrip(t, conn, "SET", "b", "2")
	if got := roundTrip(t, conn, "FLUSHDB"); got != "+OK\r\n" {
		t.Fatalf("FLUSHDB = %q", got)
	}
	if got := roundTrip(t, conn, "DBSIZE"); got != ":0\r\n" {
		t.Errorf("DBSIZE after flush = %q", got)
	}
}

func TestInfoAndKeys(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()
	conn := dialTest(t, addr)
	defer conn.Close()

	roundTrip(t, conn, "SET", "user:1", "a")
	roundTrip(t, conn, "SET", "user:2", "b")
	roundTrip(t, conn, "SET", "other", "c")

	got := roundTrip(t, conn, "INFO")
	if !strings.Contains(got, "numa_nodes:2") || !strings.Contains(got, "db0:keys=3") {
		t.Errorf("INFO = %q", got)
	}

	got = roundTrip(t, conn, "KEYS", "user:*")
	if !strings.HasPrefix(got, "*2\r\n") {
		t.Errorf("KEYS = %q", got)
	}
}
