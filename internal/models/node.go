package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// NodeStatus is the persisted health state of a worker node.
type NodeStatus int

const (
	NodeOnline NodeStatus = iota
	NodeOffline
	NodeDisabled
)

var nodeStatusNames = map[NodeStatus]string{
	NodeOnline:   "online",
	NodeOffline:  "offline",
	NodeDisabled: "disabled",
}

func (s NodeStatus) String() string {
	if name, ok := nodeStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("node_status(%d)", int(s))
}

// Valid reports whether s is one of the known node states.
func (s NodeStatus) Valid() bool {
	_, ok := nodeStatusNames[s]
	return ok
}

func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseNodeStatus accepts either the state name or its persisted integer form.
func ParseNodeStatus(v string) (NodeStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range nodeStatusNames {
		if name == v || strconv.Itoa(int(s)) == v {
			return s, nil
		}
	}
	return 0, &ConfigurationError{Field: "node status", Value: v}
}

// Node is a worker daemon the scheduler can submit jobs to.
// Only Status is mutated by the scheduler.
type Node struct {
	ID       int64      `json:"id"`
	Host     string     `json:"host"`
	Port     int        `json:"port"`
	Username string     `json:"-"`
	Password string     `json:"-"`
	Status   NodeStatus `json:"status"`
}

// BaseURL is the root every worker API path is resolved against.
func (n Node) BaseURL() string {
	return "http://" + net.JoinHostPort(n.Host, strconv.Itoa(n.Port)) + "/"
}

func (n Node) String() string {
	return fmt.Sprintf("[Node_%d: %s]", n.ID, n.Status)
}
