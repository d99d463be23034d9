package cluster

import (
	"strings"
)

// NodeName is a remote node as given by the user, either "host" or "user@host".
// Two names are the same node only if the raw strings are equal.
type NodeName string

// Host returns the portion after the last '@', or the whole name when there is none.
func (n NodeName) Host() string {
	s := string(n)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// User returns the portion before the last '@', or "" when there is none.
func (n NodeName) User() string {
	s := string(n)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return s[:i]
	}
	return ""
}

func (n NodeName) String() string {
	return string(n)
}

// NewNodeName joins an optional user with a host.
func NewNodeName(user, host string) NodeName {
	if user == "" {
		return NodeName(host)
	}
	return NodeName(user + "@" + host)
}

// Dedupe drops repeated names, keeping the first occurrence of each in input order.
func Dedupe(names []NodeName) []NodeName {
	seen := make(map[NodeName]bool, len(names))
	out := make([]NodeName, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ToNodeNames converts raw strings, dropping surrounding whitespace and empty entries.
func ToNodeNames(raw ...string) []NodeName {
	out := make([]NodeName, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, NodeName(r))
		}
	}
	return out
}

// Returns a full list of candidate nodes.
type Fetcher interface {
	Fetch() ([]NodeName, error)
}

type staticFetcher []NodeName

// NewStaticFetcher returns a Fetcher that always yields the given names.
func NewStaticFetcher(names ...NodeName) Fetcher {
	return staticFetcher(names)
}

func (f staticFetcher) Fetch() ([]NodeName, error) {
	return append([]NodeName(nil), f...), nil
}

type multiFetcher []Fetcher

// NewMultiFetcher concatenates the results of each fetcher in order.
// The first error stops the fetch.
func NewMultiFetcher(fetchers ...Fetcher) Fetcher {
	return multiFetcher(fetchers)
}

func (m multiFetcher) Fetch() ([]NodeName, error) {
	var out []NodeName
	for _, f := range m {
		names, err := f.Fetch()
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

// Join renders names comma separated, for log lines.
func Join(names []NodeName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
