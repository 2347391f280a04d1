package taskstats

import (
	"fmt"
	"os"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/nlsock"
)

// Client is a netlink-backed taskstats client.
type Client struct {
	sock *nlsock.Socket
}

// NewClient opens a netlink socket and returns a Client ready to use.
func NewClient(opts ...nlsock.Option) (*Client, error) {
	s, err := nlsock.Open(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{sock: s}, nil
}

// Close releases the underlying netlink socket.
func (c *Client) Close() error { return c.sock.Close() }

// GetPidStats returns the accounting statistics the kernel has accumulated
// for pid.
func (c *Client) GetPidStats(pid int) (*Stats, error) {
	req := TaskstatsMessage.NewMsg("GET", TaskstatsAttrList.New(map[string]any{"pid": uint32(pid)}))
	req.SetFlags(genl.FlagRequest)
	replies, err := c.sock.Query(req)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.CommandName() != "NEW" || msg.Attrs == nil {
			continue
		}
		aggr, ok := msg.Attrs.Get("aggr_pid", nil).(*attr.Instance)
		if !ok || aggr == nil {
			return nil, fmt.Errorf("taskstats: reply for pid %d carries no aggr_pid attribute", pid)
		}
		stats, ok := aggr.Get("stats", nil).(Stats)
		if !ok {
			return nil, fmt.Errorf("taskstats: reply for pid %d carries no stats attribute", pid)
		}
		return &stats, nil
	}
	return nil, fmt.Errorf("taskstats: no NEW reply for pid %d", pid)
}

// GetSelfStats returns the calling process's own accounting statistics.
func (c *Client) GetSelfStats() (*Stats, error) {
	return c.GetPidStats(os.Getpid())
}
