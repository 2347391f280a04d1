package cgroupstats

import (
	"fmt"
	"os"

	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/nlsock"
	"github.com/m-lab/gnl/taskstats"
)

// Client is a netlink-backed cgroupstats client.
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

// GetCgroupStats opens path (a cgroup directory) read-only, queries the
// kernel for its process-state counters, and releases the descriptor on
// every exit path.
func (c *Client) GetCgroupStats(path string) (*Stats, error) {
	fd, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("cgroupstats: opening %s: %w", path, err)
	}
	defer fd.Close()

	req := taskstats.TaskstatsMessage.NewMsg("CGROUPSTATS_GET",
		CgroupstatsCmdAttrList.New(map[string]any{"cgroupstats_cmd_attr_fd": uint32(fd.Fd())}))
	req.SetFlags(genl.FlagRequest)
	replies, err := c.sock.Query(req)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.CommandName() != "CGROUPSTATS_NEW" || msg.Attrs == nil {
			continue
		}
		stats, ok := msg.Attrs.Get("cgroup_stats", nil).(Stats)
		if !ok {
			return nil, fmt.Errorf("cgroupstats: reply for %s carries no cgroup_stats attribute", path)
		}
		return &stats, nil
	}
	return nil, fmt.Errorf("cgroupstats: no reply for %s", path)
}
