package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/p-arndt/chainsandbox/node"
	"github.com/p-arndt/chainsandbox/process"
	"gopkg.in/yaml.v3"
)

// Topology declares a network to build with Apply.
type Topology struct {
	Nodes     []NodeSpec   `yaml:"nodes"`
	Bakers    []DaemonSpec `yaml:"bakers"`
	Endorsers []DaemonSpec `yaml:"endorsers"`
	Accusers  []DaemonSpec `yaml:"accusers"`
}

type NodeSpec struct {
	ID        int               `yaml:"id"`
	Peers     []int             `yaml:"peers"`
	Params    []string          `yaml:"params"`
	Private   *bool             `yaml:"private"`
	LogLevels map[string]string `yaml:"log_levels"`
	Snapshot  string            `yaml:"snapshot"`
	Branch    string            `yaml:"branch"`
	Config    map[string]any    `yaml:"config"`
}

type DaemonSpec struct {
	Node             int      `yaml:"node"`
	Account          string   `yaml:"account"`
	Proto            string   `yaml:"proto"`
	Params           []string `yaml:"params"`
	EndorsementDelay float64  `yaml:"endorsement_delay"`
	Branch           string   `yaml:"branch"`
}

// LoadTopology reads a topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopology(data)
}

func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: topology: %v", process.ErrInvalidArgument, err)
	}
	seen := make(map[int]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if seen[n.ID] {
			return nil, fmt.Errorf("%w: topology declares node %d twice", ErrDuplicateID, n.ID)
		}
		seen[n.ID] = true
	}
	return &t, nil
}

// Apply adds the nodes in declaration order, then bakers, endorsers and
// accusers. It stops at the first error; what was added stays registered
// and is torn down by Close.
func (t *Topology) Apply(ctx context.Context, s *Sandbox) error {
	for _, n := range t.Nodes {
		_, err := s.AddNode(ctx, n.ID, NodeParams{
			Peers:     n.Peers,
			Params:    n.Params,
			Private:   n.Private,
			LogLevels: n.LogLevels,
			Snapshot:  n.Snapshot,
			Branch:    n.Branch,
			Config:    node.ConfigOverrides(n.Config),
		})
		if err != nil {
			return err
		}
	}
	for _, b := range t.Bakers {
		if _, err := s.AddBaker(ctx, b.Node, b.Account, b.Proto, b.params()); err != nil {
			return err
		}
	}
	for _, e := range t.Endorsers {
		if _, err := s.AddEndorser(ctx, e.Node, e.Account, e.Proto, e.params()); err != nil {
			return err
		}
	}
	for _, a := range t.Accusers {
		if _, err := s.AddAccuser(ctx, a.Node, a.Proto, a.params()); err != nil {
			return err
		}
	}
	return nil
}

func (d DaemonSpec) params() DaemonParams {
	return DaemonParams{Params: d.Params, EndorsementDelay: d.EndorsementDelay, Branch: d.Branch}
}
