package batchclient

import "github.com/juleafs/julea/wire"

// opGroup is every op index sharing one (Server, Opcode, GroupKey), sent
// as a single coalesced wire.Message, in the order Add saw them.
type opGroup struct {
	key     groupKey
	indices []int
}

type groupKey struct {
	opcode wire.Opcode
	group  string
}

// serverPlan is one target server's ordered run of message groups, per
// §4.4 "Grouping": "ops with different opcodes to the same server become
// separate messages and are sent serially on that connection (preserving
// opcode-level ordering)".
type serverPlan struct {
	addr   string
	groups []opGroup
}

// planServers partitions ops by server, then within each server by
// (opcode, group key), preserving the order each distinct group was first
// populated in — "at most one outbound message per pair" (§4.4), with
// distinct groups on one server run serially in first-seen order and
// distinct servers run in parallel by the caller.
func planServers(ops []Op) []serverPlan {
	serverOrder := make([]string, 0)
	serverIdx := make(map[string]int)

	type pending struct {
		groupOrder []groupKey
		groupIdx   map[groupKey]int
		groups     []opGroup
	}
	byServer := make(map[string]*pending)

	for i, op := range ops {
		if _, ok := serverIdx[op.Server]; !ok {
			serverIdx[op.Server] = len(serverOrder)
			serverOrder = append(serverOrder, op.Server)
			byServer[op.Server] = &pending{groupIdx: make(map[groupKey]int)}
		}
		p := byServer[op.Server]
		key := groupKey{opcode: op.Opcode, group: op.GroupKey}
		gi, ok := p.groupIdx[key]
		if !ok {
			gi = len(p.groups)
			p.groupIdx[key] = gi
			p.groupOrder = append(p.groupOrder, key)
			p.groups = append(p.groups, opGroup{key: key})
		}
		p.groups[gi].indices = append(p.groups[gi].indices, i)
	}

	plans := make([]serverPlan, 0, len(serverOrder))
	for _, addr := range serverOrder {
		p := byServer[addr]
		plans = append(plans, serverPlan{addr: addr, groups: p.groups})
	}
	return plans
}
