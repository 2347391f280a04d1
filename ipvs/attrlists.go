// Package ipvs is a Go client for the kernel's IPVS (IP Virtual Server)
// load-balancer, talking to the IPVS generic-netlink family the same way
// ipvsadm does, without shelling out to it.
package ipvs

import (
	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/scalar"
)

// IPVS forwarding methods, as understood by the kernel's dest attribute
// list. These numeric values are kernel ABI and must not be renumbered.
const (
	Masquerade uint32 = 0
	Local      uint32 = 1
	Tunnel     uint32 = 2
	Route      uint32 = 3
)

func validForwardingMethod(m uint32) bool {
	switch m {
	case Masquerade, Local, Tunnel, Route:
		return true
	default:
		return false
	}
}

// IpvsStatsAttrList is the 32-bit-counter service/dest traffic statistics
// block.
var IpvsStatsAttrList = attr.NewSchema("IpvsStatsAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("CONNS", scalar.U32),
		attr.F("INPKTS", scalar.U32),
		attr.F("OUTPKTS", scalar.U32),
		attr.F("INBYTES", scalar.U64),
		attr.F("OUTBYTES", scalar.U64),
		attr.F("CPS", scalar.U32),
		attr.F("INPPS", scalar.U32),
		attr.F("OUTPPS", scalar.U32),
		attr.F("INBPS", scalar.U32),
		attr.F("OUTBPS", scalar.U32),
	}
})

// IpvsStatsAttrList64 is the wide-counter variant of IpvsStatsAttrList.
var IpvsStatsAttrList64 = attr.NewSchema("IpvsStatsAttrList64", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("CONNS", scalar.U64),
		attr.F("INPKTS", scalar.U64),
		attr.F("OUTPKTS", scalar.U64),
		attr.F("INBYTES", scalar.U64),
		attr.F("OUTBYTES", scalar.U64),
		attr.F("CPS", scalar.U64),
		attr.F("INPPS", scalar.U64),
		attr.F("OUTPPS", scalar.U64),
		attr.F("INBPS", scalar.U64),
		attr.F("OUTBPS", scalar.U64),
	}
})

// IpvsServiceAttrList describes a load-balanced virtual service, keyed
// either by (af, protocol, addr, port) or by fwmark.
var IpvsServiceAttrList = attr.NewSchema("IpvsServiceAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("AF", scalar.U16),
		attr.F("PROTOCOL", scalar.U16),
		attr.F("ADDR", scalar.Binary),
		attr.F("PORT", scalar.Net16),
		attr.F("FWMARK", scalar.U32),
		attr.F("SCHED_NAME", scalar.NulString),
		attr.F("FLAGS", scalar.Binary),
		attr.F("TIMEOUT", scalar.U32),
		attr.F("NETMASK", scalar.U32),
		attr.F("STATS", IpvsStatsAttrList),
		attr.F("PE_NAME", scalar.NulString),
		attr.F("STATS64", IpvsStatsAttrList64),
	}
})

// IpvsDestAttrList describes one real server backing a service.
var IpvsDestAttrList = attr.NewSchema("IpvsDestAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("ADDR", scalar.Binary),
		attr.F("PORT", scalar.Net16),
		attr.F("FWD_METHOD", scalar.U32),
		attr.F("WEIGHT", scalar.I32),
		attr.F("U_THRESH", scalar.U32),
		attr.F("L_THRESH", scalar.U32),
		attr.F("ACTIVE_CONNS", scalar.U32),
		attr.F("INACT_CONNS", scalar.U32),
		attr.F("PERSIST_CONNS", scalar.U32),
		attr.F("STATS", IpvsStatsAttrList),
		attr.F("ADDR_FAMILY", scalar.U16),
		attr.F("STATS64", IpvsStatsAttrList64),
	}
})

// IpvsDaemonAttrList describes a sync daemon (master/backup), carried for
// schema completeness; the library's Client does not expose it.
var IpvsDaemonAttrList = attr.NewSchema("IpvsDaemonAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("STATE", scalar.U32),
		attr.F("MCAST_IFN", scalar.NulString),
		attr.F("SYNC_ID", scalar.U32),
	}
})

// IpvsInfoAttrList carries module version/config, for schema completeness.
var IpvsInfoAttrList = attr.NewSchema("IpvsInfoAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("VERSION", scalar.U32),
		attr.F("CONN_TAB_SIZE", scalar.U32),
	}
})

// IpvsCmdAttrList is the top-level attribute list every IPVS command
// carries.
var IpvsCmdAttrList = attr.NewSchema("IpvsCmdAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("SERVICE", IpvsServiceAttrList),
		attr.F("DEST", IpvsDestAttrList),
		attr.F("DAEMON", IpvsDaemonAttrList),
		attr.F("TIMEOUT_TCP", scalar.U32),
		attr.F("TIMEOUT_TCP_FIN", scalar.U32),
		attr.F("TIMEOUT_UDP", scalar.U32),
	}
})

// Ipvs is the IPVS generic-netlink family schema, resolved by name at
// bootstrap (it has no fixed numeric id).
var Ipvs = genl.NewMessageSchema("IPVS", genl.ByName("IPVS"), []genl.Command{
	genl.Cmd("NEW_SERVICE", IpvsCmdAttrList),
	genl.Cmd("SET_SERVICE", IpvsCmdAttrList),
	genl.Cmd("DEL_SERVICE", IpvsCmdAttrList),
	genl.Cmd("GET_SERVICE", IpvsCmdAttrList),
	genl.Cmd("NEW_DEST", IpvsCmdAttrList),
	genl.Cmd("SET_DEST", IpvsCmdAttrList),
	genl.Cmd("DEL_DEST", IpvsCmdAttrList),
	genl.Cmd("GET_DEST", IpvsCmdAttrList),
	genl.Cmd("NEW_DAEMON", IpvsCmdAttrList),
	genl.Cmd("DEL_DAEMON", IpvsCmdAttrList),
	genl.Cmd("GET_DAEMON", IpvsCmdAttrList),
	genl.Cmd("SET_CONFIG", IpvsCmdAttrList),
	genl.Cmd("GET_CONFIG", IpvsCmdAttrList),
	genl.Cmd("SET_INFO", IpvsCmdAttrList),
	genl.Cmd("GET_INFO", IpvsCmdAttrList),
	genl.Cmd("ZERO", IpvsCmdAttrList),
	genl.Cmd("FLUSH", IpvsCmdAttrList),
}, genl.WithRequiredModules("ip_vs"))
