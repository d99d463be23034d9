package temp

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLines(t *testing.T) {
	tmp, err := TempDirDefault()
	require.NoError(t, err)
	defer tmp.Remove()

	name, cleanup, err := WriteLines(tmp.Dir, "include-", []string{"src", "tests/unit"})
	require.NoError(t, err)

	data, err := ioutil.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "src\ntests/unit\n", string(data))

	cleanup()
	cleanup()
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestFixedDirRejectsSeparator(t *testing.T) {
	tmp, err := TempDirDefault()
	require.NoError(t, err)
	defer tmp.Remove()

	_, err = tmp.FixedDir("a/b")
	assert.Error(t, err)

	sub, err := tmp.FixedDir("ctl")
	require.NoError(t, err)
	info, err := os.Stat(sub.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
