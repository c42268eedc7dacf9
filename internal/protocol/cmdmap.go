package protocol

import (
	"context"

	"github.com/tidwall/redcon"
)

// CommandHandler executes one command. The return value feeds the command
// success/error counter.
type CommandHandler func(ctx context.Context, conn redcon.Conn, args [][]byte) bool

// cmdEntry holds a command name and its handler for the lookup table.
type cmdEntry struct {
	name    []byte
	handler CommandHandler
}

// cmdMap is a hash-based command lookup table using open addressing, sized
// so command dispatch never allocates.
type cmdMap struct {
	buckets [32]cmdEntry // power of 2 for fast modulo
	h       *Handler
}

func newCmdMap(h *Handler) *cmdMap {
	cm := &cmdMap{h: h}
	cm.registerAll()
	return cm
}

func (cm *cmdMap) registerAll() {
	// Core commands
	cm.register([]byte("PING"), cm.h.cmdPing)
	cm.register([]byte("ECHO"), cm.h.cmdEcho)
	cm.register([]byte("QUIT"), cm.h.cmdQuit)
	cm.register([]byte("COMMAND"), cm.h.cmdCommand)
	cm.register([]byte("INFO"), cm.h.cmdInfo)

	// Data commands
	cm.register([]byte("GET"), cm.h.cmdGet)
	cm.register([]byte("SET"), cm.h.cmdSet)
	cm.register([]byte("DEL"), cm.h.cmdDel)
	cm.register([]byte("EXISTS"), cm.h.cmdExists)
	cm.register([]byte("KEYS"), cm.h.cmdKeys)
	cm.register([]byte("DBSIZE"), cm.h.cmdDBSize)
	cm.register([]byte("FLUSHDB"), cm.h.cmdFlushDB)
	cm.register([]byte("FLUSHALL"), cm.h.cmdFlushDB)

	// Control surface
	cm.register([]byte("CONFIG"), cm.h.cmdConfig)
	cm.register([]byte("MIGRATE"), cm.h.cmdMigrate)
	cm.register([]byte("STATS"), cm.h.cmdStats)
	cm.register([]byte("REBALANCE"), cm.h.cmdRebalance)
}

func (cm *cmdMap) register(name []byte, handler CommandHandler) {
	hash := HashBytes(name)
	idx := hash & 31 // len(buckets) - 1

	for i := 0; i < 32; i++ {
		pos := (idx + uint32(i)) & 31
		if cm.buckets[pos].name == nil {
			cm.buckets[pos] = cmdEntry{name: name, handler: handler}
			return
		}
	}
	// 17 commands in 32 buckets
	panic("cmdMap overflow")
}

// Lookup finds a command handler by name. The name must already be
// uppercase. Returns nil for unknown commands.
func (cm *cmdMap) Lookup(name []byte) CommandHandler {
	hash := HashBytes(name)
	idx := hash & 31

	for i := 0; i < 32; i++ {
		pos := (idx + uint32(i)) & 31
		entry := &cm.buckets[pos]
		if entry.name == nil {
			return nil
		}
		if BytesEqual(entry.name, name) {
			return entry.handler
		}
	}
	return nil
}
