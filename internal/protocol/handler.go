package protocol

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/redcon"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/metrics"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/store"
	"github.com/xDJTomato/Redis-NUMA-sub001/pkg/bytes"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
	"github.com/xDJTomato/Redis-NUMA-sub001/pkg/protocolbuf"
)

// Handler dispatches RESP commands against the store and the NUMA control
// surface. Handlers report success for the command counter; protocol-level
// argument errors count as failures, a GET miss does not.
type Handler struct {
	store  *store.Store
	mgr    *numa.Manager
	cmdMap *cmdMap
}

func NewHandler(st *store.Store, mgr *numa.Manager) *Handler {
	h := &Handler{store: st, mgr: mgr}
	h.cmdMap = newCmdMap(h)
	return h
}

// ExecuteBytes resolves and runs one command. The command name is
// uppercased in place; redcon owns the buffer and reuses it afterwards.
func (h *Handler) ExecuteBytes(ctx context.Context, conn redcon.Conn, cmdBytes []byte, args [][]byte) {
	ToUpperInPlace(cmdBytes)

	fn := h.cmdMap.Lookup(cmdBytes)
	if fn == nil {
		conn.WriteError("ERR unknown command '" + bytes.BytesToString(cmdBytes) + "'")
		return
	}

	start := time.Now()
	ok := fn(ctx, conn, args)
	metrics.RecordCommand(string(cmdBytes), time.Since(start), ok)
}

func (h *Handler) cmdPing(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteString("PONG")
	} else {
		conn.WriteBulk(args[0])
	}
	return true
}

func (h *Handler) cmdEcho(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'echo' command")
		return false
	}
	conn.WriteBulk(args[0])
	return true
}

func (h *Handler) cmdQuit(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	conn.WriteString("OK")
	conn.Close()
	return true
}

func (h *Handler) cmdCommand(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	conn.WriteArray(0)
	return true
}

func (h *Handler) cmdGet(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'get' command")
		return false
	}

	val, ok := h.store.Get(bytes.BytesToString(args[0]), h.mgr.CurrentNode())
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulk(val)
	return true
}

func (h *Handler) cmdSet(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'set' command")
		return false
	}

	// The key outlives the call as a map entry; args alias redcon's read
	// buffer, so it must be copied.
	key := string(args[0])
	if err := h.store.Set(key, args[1], h.mgr.CurrentNode()); err != nil {
		if errors.Is(err, errs.ErrAllocationFailure) {
			conn.WriteError("OOM command not allowed, all memory nodes at capacity")
		} else {
			conn.WriteError("ERR " + err.Error())
		}
		return false
	}
	conn.WriteString("OK")
	return true
}

func (h *Handler) cmdDel(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'del' command")
		return false
	}

	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = bytes.BytesToString(arg)
	}
	conn.WriteInt64(h.store.Del(keys...))
	return true
}

func (h *Handler) cmdExists(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'exists' command")
		return false
	}

	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = bytes.BytesToString(arg)
	}
	conn.WriteInt64(h.store.Exists(keys...))
	return true
}

func (h *Handler) cmdKeys(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'keys' command")
		return false
	}

	keys := h.store.Keys(bytes.BytesToString(args[0]))
	conn.WriteArray(len(keys))
	for _, key := range keys {
		conn.WriteBulk(bytes.StringToBytes(key))
	}
	return true
}

func (h *Handler) cmdDBSize(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	conn.WriteInt64(h.store.Len())
	return true
}

func (h *Handler) cmdFlushDB(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	h.store.Clear()
	conn.WriteString("OK")
	return true
}

func (h *Handler) cmdConfig(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'config' command")
		return false
	}

	switch strings.ToUpper(bytes.BytesToString(args[0])) {
	case "GET":
		if len(args) > 2 {
			conn.WriteError("ERR wrong number of arguments for 'config|get' command")
			return false
		}
		// Bare CONFIG GET dumps the whole configuration.
		pattern := "*"
		if len(args) == 2 {
			pattern = bytes.BytesToString(args[1])
		}
		var matched [][2]string
		for _, f := range h.mgr.Config().Load().Fields() {
			if pattern == "*" || f[0] == pattern {
				matched = append(matched, f)
			}
		}
		conn.WriteArray(len(matched) * 2)
		for _, f := range matched {
			conn.WriteBulkString(f[0])
			conn.WriteBulkString(f[1])
		}
		return true

	case "SET":
		if len(args) != 3 {
			conn.WriteError("ERR wrong number of arguments for 'config|set' command")
			return false
		}
		if err := h.mgr.SetConfig(string(args[1]), string(args[2])); err != nil {
			conn.WriteError("ERR " + err.Error())
			return false
		}
		conn.WriteString("OK")
		return true

	case "STATS":
		h.writeConfigStats(conn)
		return true

	default:
		conn.WriteError("ERR unknown CONFIG subcommand")
		return false
	}
}

func (h *Handler) cmdMigrate(_ context.Context, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'migrate' command")
		return false
	}

	switch strings.ToUpper(bytes.BytesToString(args[0])) {
	case "STATS":
		h.writeMigrationStats(conn)
		return true

	case "KEY":
		if len(args) != 3 {
			conn.WriteError("ERR wrong number of arguments for 'migrate|key' command")
			return false
		}
		node, err := strconv.Atoi(bytes.BytesToString(args[2]))
		if err != nil {
			conn.WriteError("ERR value is not an integer or out of range")
			return false
		}
		// enqueued keys outlive the call
		if err := h.mgr.ForceMigrate(string(args[1]), node); err != nil {
			switch {
			case errors.Is(err, errs.ErrKeyNotFound):
				conn.WriteError("ERR no such key")
			case errors.Is(err, errs.ErrUnknownNode):
				conn.WriteError("ERR no such node")
			default:
				conn.WriteError("ERR " + err.Error())
			}
			return false
		}
		conn.WriteString("OK")
		return true

	default:
		conn.WriteError("ERR unknown MIGRATE subcommand")
		return false
	}
}

func (h *Handler) cmdStats(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	buf := protocolbuf.GetBuffer()
	defer protocolbuf.PutBuffer(buf)

	buf.WriteString("# Keyspace\r\n")
	buf.WriteString("keys:")
	buf.WriteString(strconv.FormatInt(h.store.Len(), 10))
	buf.WriteString("\r\n")

	for _, s := range h.mgr.NodeSnapshots() {
		node := strconv.Itoa(s.Node)
		buf.WriteString("\r\n# Node ")
		buf.WriteString(node)
		buf.WriteString(" (")
		buf.WriteString(s.Kind.String())
		buf.WriteString(")\r\n")
		buf.WriteString("capacity_bytes:")
		buf.WriteString(strconv.FormatInt(s.Capacity, 10))
		buf.WriteString("\r\nreserved_bytes:")
		buf.WriteString(strconv.FormatInt(s.Reserved, 10))
		buf.WriteString("\r\nused_small_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[0], 10))
		buf.WriteString("\r\nused_medium_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[1], 10))
		buf.WriteString("\r\nused_large_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[2], 10))
		buf.WriteString("\r\npressure:")
		buf.WriteString(strconv.FormatFloat(s.Pressure(), 'f', 4, 64))
		buf.WriteString("\r\nfragmentation:")
		buf.WriteString(strconv.FormatFloat(s.Fragmentation(), 'f', 4, 64))
		buf.WriteString("\r\nallocs:")
		buf.WriteString(strconv.FormatInt(s.Allocs, 10))
		buf.WriteString("\r\nfrees:")
		buf.WriteString(strconv.FormatInt(s.Frees, 10))
		buf.WriteString("\r\n")
	}

	conn.WriteBulk(buf.Bytes())
	return true
}

func (h *Handler) cmdRebalance(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	h.mgr.Rebalance()
	conn.WriteString("OK")
	return true
}

func (h *Handler) cmdInfo(_ context.Context, conn redcon.Conn, _ [][]byte) bool {
	cfg := h.mgr.Config().Load()
	st := h.mgr.MigrationStats()

	buf := protocolbuf.GetBuffer()
	defer protocolbuf.PutBuffer(buf)

	buf.WriteString("# Server\r\nnumakv_version:0.1.0\r\n")
	buf.WriteString("\r\n# Memory\r\nnuma_nodes:")
	buf.WriteString(strconv.Itoa(h.mgr.Topology().NumNodes()))
	buf.WriteString("\r\nplacement_strategy:")
	buf.WriteString(cfg.Strategy.String())
	buf.WriteString("\r\n")
	buf.WriteString("\r\n# Migration\r\ntotal_migrations:")
	buf.WriteString(strconv.FormatUint(st.Completed, 10))
	buf.WriteString("\r\n")
	buf.WriteString("\r\n# Keyspace\r\ndb0:keys=")
	buf.WriteString(strconv.FormatInt(h.store.Len(), 10))
	buf.WriteString(",expires=0\r\n")

	conn.WriteBulk(buf.Bytes())
	return true
}

// writeConfigStats reports the placement state the configuration acts on:
// per-node byte counts by size class plus the migration counters.
func (h *Handler) writeConfigStats(conn redcon.Conn) {
	st := h.mgr.MigrationStats()

	buf := protocolbuf.GetBuffer()
	defer protocolbuf.PutBuffer(buf)

	buf.WriteString("# Nodes\r\n")
	for _, s := range h.mgr.NodeSnapshots() {
		node := strconv.Itoa(s.Node)
		buf.WriteString("node_")
		buf.WriteString(node)
		buf.WriteString("_small_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[0], 10))
		buf.WriteString("\r\nnode_")
		buf.WriteString(node)
		buf.WriteString("_medium_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[1], 10))
		buf.WriteString("\r\nnode_")
		buf.WriteString(node)
		buf.WriteString("_large_bytes:")
		buf.WriteString(strconv.FormatInt(s.UsedBytes[2], 10))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n# Migration\r\ntotal_migrations:")
	buf.WriteString(strconv.FormatUint(st.Completed, 10))
	buf.WriteString("\r\nmigrations_dropped:")
	buf.WriteString(strconv.FormatUint(st.Dropped, 10))
	buf.WriteString("\r\nremote_accesses:")
	buf.WriteString(strconv.FormatUint(st.RemoteAccesses, 10))
	buf.WriteString("\r\nqueue_depth:")
	buf.WriteString(strconv.Itoa(h.mgr.QueueDepth()))
	buf.WriteString("\r\n")

	conn.WriteBulk(buf.Bytes())
}

// writeMigrationStats reports the engine counters.
func (h *Handler) writeMigrationStats(conn redcon.Conn) {
	st := h.mgr.MigrationStats()

	buf := protocolbuf.GetBuffer()
	defer protocolbuf.PutBuffer(buf)

	buf.WriteString("# Migration\r\n")
	buf.WriteString("triggered:")
	buf.WriteString(strconv.FormatUint(st.Triggered, 10))
	buf.WriteString("\r\ncompleted:")
	buf.WriteString(strconv.FormatUint(st.Completed, 10))
	buf.WriteString("\r\ndropped:")
	buf.WriteString(strconv.FormatUint(st.Dropped, 10))
	buf.WriteString("\r\nbytes_migrated:")
	buf.WriteString(strconv.FormatUint(st.BytesMigrated, 10))
	buf.WriteString("\r\nremote_accesses:")
	buf.WriteString(strconv.FormatUint(st.RemoteAccesses, 10))
	buf.WriteString("\r\navg_latency_us:")
	buf.WriteString(strconv.FormatInt(st.AvgLatency.Microseconds(), 10))
	buf.WriteString("\r\nqueue_depth:")
	buf.WriteString(strconv.Itoa(h.mgr.QueueDepth()))
	buf.WriteString("\r\n")

	conn.WriteBulk(buf.Bytes())
}
