package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/metrics"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/numacfg"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/placement"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/protocol"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/store"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
)

const version = "0.1.0"

var (
	addr        = flag.String("addr", ":6379", "server address")
	metricsAddr = flag.String("metrics-addr", ":9121", "prometheus exporter address, empty to disable")
	nodes       = flag.Int("nodes", 2, "node count when host topology detection fails")
	capacity    = flag.Int64("capacity", numacfg.DefaultNodeCapacity, "per-node memory budget in bytes")
	strategy    = flag.String("strategy", "local_first", "placement strategy")
	cxlNodes    = flag.String("cxl-nodes", "", "comma-separated node ids to treat as CXL capacity tier")
	shards      = flag.Int("shards", 256, "store shard count")

	// CLI flags
	cliMode = flag.Bool("cli", false, "run in CLI mode")
	cliHost = flag.String("h", "127.0.0.1", "server host (CLI mode)")
	cliPort = flag.Int("p", 6379, "server port (CLI mode)")
)

func main() {
	flag.Parse()

	if *cliMode {
		runCLI(*cliHost, *cliPort, flag.Args())
		return
	}

	topo, err := topology.Detect()
	if err != nil {
		log.Printf("topology detection failed (%v), using %d synthetic nodes", err, *nodes)
		topo = topology.Fixed(*nodes, runtime.NumCPU())
	}
	for _, n := range parseNodeList(*cxlNodes) {
		topo.MarkCXL(n)
	}
	log.Printf("topology: %d nodes %v", topo.NumNodes(), topo.Nodes())

	cfg := numacfg.Default(topo.NumNodes())
	cfg.NodeCapacity = *capacity
	policy, err := placement.ParsePolicy(*strategy)
	if err != nil {
		log.Fatalf("invalid -strategy: %v", err)
	}
	cfg.Strategy = policy

	mgr := numa.NewManager(topo, numacfg.NewStore(cfg))
	st := store.New(mgr, *shards)
	mgr.Start()

	server := protocol.NewServer(*addr, st, mgr)

	var exporter *metrics.Exporter
	if *metricsAddr != "" {
		metrics.InitInfo(version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		exporter = metrics.NewExporter(*metricsAddr, mgr)
		go func() {
			if err := exporter.Start(); err != nil && err.Error() != "http: Server closed" {
				log.Printf("metrics exporter stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")

	if err := server.Stop(); err != nil {
		log.Printf("error stopping server: %v", err)
	}
	if exporter != nil {
		if err := exporter.Stop(); err != nil {
			log.Printf("error stopping exporter: %v", err)
		}
	}
	mgr.Stop()
}

// parseNodeList parses "0,2,3" into node ids, ignoring malformed entries.
func parseNodeList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		val := 0
		ok := part != ""
		for _, c := range part {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			val = val*10 + int(c-'0')
		}
		if ok {
			out = append(out, val)
		}
	}
	return out
}

func runCLI(host string, port int, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: numakv -cli -h <host> -p <port> <command> [args...]")
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		fmt.Printf("Error connecting to %s:%d: %v\n", host, port, err)
		os.Exit(1)
	}
	defer conn.Close()

	var req strings.Builder
	req.WriteString(fmt.Sprintf("*%d\r\n", len(args)))
	for _, arg := range args {
		req.WriteString(fmt.Sprintf("$%d\r\n%s\r\n", len(arg), arg))
	}

	if _, err := conn.Write([]byte(req.String())); err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(string(buf[:n]))
}
