package cluster

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryYaml = `
all:
  hosts:
    bastion.example:
  children:
    workers:
      vars:
        ansible_user: ci
      hosts:
        w1.example:
        w2.example:
          ansible_host: 10.0.0.2
      children:
        gpu:
          hosts:
            g1.example:
              ansible_user: root
    db:
      hosts:
        db1.example:
`

func TestParseInventoryAll(t *testing.T) {
	nodes, err := parseInventory([]byte(inventoryYaml), AllGroup)
	require.NoError(t, err)
	assert.Equal(t, []NodeName{
		"bastion.example",
		"ci@w1.example",
		"ci@10.0.0.2",
		"root@g1.example",
		"db1.example",
	}, nodes)
}

func TestParseInventoryGroup(t *testing.T) {
	nodes, err := parseInventory([]byte(inventoryYaml), "workers")
	require.NoError(t, err)
	assert.Equal(t, []NodeName{"ci@w1.example", "ci@10.0.0.2", "root@g1.example"}, nodes)

	nodes, err = parseInventory([]byte(inventoryYaml), "gpu")
	require.NoError(t, err)
	assert.Equal(t, []NodeName{"root@g1.example"}, nodes)
}

const namedChildrenYaml = `
all:
  children:
    workers:
      vars:
        ansible_user: ci
      children:
        gpu:
ungrouped:
  hosts:
    lone.example:
gpu:
  hosts:
    g1.example:
    g2.example:
      ansible_user: root
`

func TestParseInventoryChildDefinedElsewhere(t *testing.T) {
	nodes, err := parseInventory([]byte(namedChildrenYaml), "workers")
	require.NoError(t, err)
	assert.Equal(t, []NodeName{"ci@g1.example", "root@g2.example"}, nodes)

	nodes, err = parseInventory([]byte(namedChildrenYaml), AllGroup)
	require.NoError(t, err)
	assert.Equal(t, []NodeName{"ci@g1.example", "root@g2.example", "lone.example"}, nodes)
}

func TestParseInventoryMissingGroup(t *testing.T) {
	_, err := parseInventory([]byte(inventoryYaml), "nope")
	assert.Error(t, err)
}

func TestParseInventoryMalformed(t *testing.T) {
	_, err := parseInventory([]byte("- a\n- b\n"), AllGroup)
	assert.Error(t, err)

	_, err = parseInventory([]byte(""), AllGroup)
	assert.Error(t, err)
}

func TestInventoryFetcher(t *testing.T) {
	dir, err := ioutil.TempDir("", "inventory")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "hosts.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(inventoryYaml), 0644))

	nodes, err := MakeInventoryFetcher(path, "db").Fetch()
	require.NoError(t, err)
	assert.Equal(t, []NodeName{"db1.example"}, nodes)

	_, err = MakeInventoryFetcher(filepath.Join(dir, "missing.yml"), "").Fetch()
	assert.Error(t, err)
}
