package genl

import (
	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/scalar"
)

// CtrlMcastGroupAttrList describes one multicast group entry nested inside
// CTRL_ATTR_MCAST_GROUPS.
var CtrlMcastGroupAttrList = attr.NewSchema("CtrlMcastGroupAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("NAME", scalar.NulString),
		attr.F("ID", scalar.U32),
	}
})

// CtrlAttrList is the attribute list CTRL_CMD_GETFAMILY replies carry: enough
// of the control family's fields to resolve a name to a numeric family id.
// CTRL_ATTR_OPS is declared but not interpreted (spec's bootstrap only needs
// the id).
var CtrlAttrList = attr.NewSchema("CtrlAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("FAMILY_ID", scalar.U16),
		attr.F("FAMILY_NAME", scalar.NulString),
		attr.F("VERSION", scalar.U32),
		attr.F("HDRSIZE", scalar.U32),
		attr.F("MAXATTR", scalar.U32),
		attr.F("OPS", scalar.Ignore),
		attr.F("MCAST_GROUPS", CtrlMcastGroupAttrList),
	}
})

// Ctrl is the well-known generic-netlink control family (id 16), used to
// resolve other families' names to numeric ids via GETFAMILY.
var Ctrl = NewMessageSchema("Ctrl", ByID(TypeControl), []Command{
	Cmd("NEWFAMILY", CtrlAttrList),
	Cmd("DELFAMILY", nil),
	Cmd("GETFAMILY", CtrlAttrList),
	Cmd("NEWOPS", nil),
	Cmd("DELOPS", nil),
	Cmd("GETOPS", nil),
	Cmd("NEWMCAST_GRP", nil),
	Cmd("DELMCAST_GRP", nil),
	Cmd("GETMCAST_GRP", nil),
})
