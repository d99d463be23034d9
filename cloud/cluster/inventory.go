package cluster

import (
	"io/ioutil"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// The group every Ansible inventory implicitly has.
const AllGroup = "all"

// MakeInventoryFetcher reads nodes from a YAML Ansible inventory file.
// Hosts of the named group and all its child groups are returned in document order.
func MakeInventoryFetcher(path, group string) Fetcher {
	if group == "" {
		group = AllGroup
	}
	return &inventoryFetcher{path: path, group: group}
}

type inventoryFetcher struct {
	path  string
	group string
}

func (f *inventoryFetcher) Fetch() ([]NodeName, error) {
	data, err := ioutil.ReadFile(f.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading inventory %s", f.path)
	}
	nodes, err := parseInventory(data, f.group)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing inventory %s", f.path)
	}
	log.Infof("Inventory %s group %s: %d nodes", f.path, f.group, len(nodes))
	return nodes, nil
}

// inventoryGroup mirrors one group of the YAML inventory. Nodes are kept so
// map ordering from the file survives decoding.
type inventoryGroup struct {
	Hosts    yaml.Node `yaml:"hosts"`
	Children yaml.Node `yaml:"children"`
	Vars     yaml.Node `yaml:"vars"`
}

type hostVars struct {
	Host string `yaml:"ansible_host"`
	User string `yaml:"ansible_user"`
}

func parseInventory(data []byte, group string) ([]NodeName, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, errors.New("empty inventory")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, errors.Errorf("line %d: inventory must be a mapping of groups", top.Line)
	}

	defs := map[string][]*yaml.Node{}
	if err := indexGroups(top, defs); err != nil {
		return nil, err
	}
	roots := defs[group]
	if group == AllGroup {
		// every top level group is implicitly a child of all
		for i := 1; i < len(top.Content); i += 2 {
			roots = append(roots, top.Content[i])
		}
	}
	if len(roots) == 0 {
		return nil, errors.Errorf("group %q not found", group)
	}
	var out []NodeName
	visited := map[*yaml.Node]bool{}
	for _, g := range roots {
		if err := collectHosts(g, defs, hostVars{}, &out, visited); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// indexGroups records every definition of every group by name, top level and
// nested. Definitions sharing a name are one group, so a child listed by name
// resolves to wherever it is defined.
func indexGroups(groups *yaml.Node, defs map[string][]*yaml.Node) error {
	for i := 0; i+1 < len(groups.Content); i += 2 {
		key, val := groups.Content[i], groups.Content[i+1]
		defs[key.Value] = append(defs[key.Value], val)
		var g inventoryGroup
		if err := val.Decode(&g); err != nil {
			return errors.Wrapf(err, "group %s", key.Value)
		}
		if g.Children.Kind == yaml.MappingNode {
			if err := indexGroups(&g.Children, defs); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectHosts appends hosts of node and then of its children. A group's
// ansible_user is inherited by its hosts and child groups unless overridden.
func collectHosts(node *yaml.Node, defs map[string][]*yaml.Node, inherited hostVars, out *[]NodeName, visited map[*yaml.Node]bool) error {
	if visited[node] {
		return nil
	}
	visited[node] = true

	var g inventoryGroup
	if err := node.Decode(&g); err != nil {
		return err
	}
	vars := inherited
	if g.Vars.Kind == yaml.MappingNode {
		var gv hostVars
		if err := g.Vars.Decode(&gv); err != nil {
			return err
		}
		vars = mergeVars(vars, hostVars{User: gv.User})
	}

	if g.Hosts.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(g.Hosts.Content); i += 2 {
			name, val := g.Hosts.Content[i].Value, g.Hosts.Content[i+1]
			hv := vars
			if val.Kind == yaml.MappingNode {
				var own hostVars
				if err := val.Decode(&own); err != nil {
					return errors.Wrapf(err, "host %s", name)
				}
				hv = mergeVars(hv, own)
			}
			host := name
			if hv.Host != "" {
				host = hv.Host
			}
			*out = append(*out, NewNodeName(hv.User, host))
		}
	}

	if g.Children.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(g.Children.Content); i += 2 {
			for _, def := range defs[g.Children.Content[i].Value] {
				if err := collectHosts(def, defs, vars, out, visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func mergeVars(base, over hostVars) hostVars {
	if over.Host != "" {
		base.Host = over.Host
	}
	if over.User != "" {
		base.User = over.User
	}
	return base
}
