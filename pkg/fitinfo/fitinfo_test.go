package fitinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFitFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fitinfo")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	ins, err := Load(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	assert.Nil(t, ins)
}

func TestLoadParsesFields(t *testing.T) {
	path := writeFitFile(t, "proc=hbsClient\ncode=hb-loss\nhits=3\nhost=compute-1\nname=iface\ndata=cluster-host\n")

	ins, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, ins)
	assert.Equal(t, "hbsClient", ins.Proc)
	assert.Equal(t, "hb-loss", ins.Code)
	assert.Equal(t, 3, ins.Hits)
	assert.Equal(t, "compute-1", ins.Host)
	assert.Equal(t, "iface", ins.Name)
	assert.Equal(t, "cluster-host", ins.Data)
}

func TestLoadRenamesFileOnLoad(t *testing.T) {
	path := writeFitFile(t, "proc=mtcAgent\ncode=reset-fail\n")

	_, err := Load(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(path + ".armed")
	assert.NoError(t, statErr)
}

func TestMatchesAndConsume(t *testing.T) {
	ins := &Insertion{Proc: "hbsClient", Host: "compute-1", Code: "hb-loss", Hits: 2}

	assert.True(t, ins.Matches("hbsClient", "compute-1", "hb-loss"))
	assert.False(t, ins.Matches("hbsClient", "compute-2", "hb-loss"))
	assert.False(t, ins.Matches("hbsClient", "compute-1", "other-code"))

	assert.True(t, ins.Consume())
	assert.True(t, ins.Consume())
	assert.False(t, ins.Consume())
}

func TestConsumeUnlimited(t *testing.T) {
	ins := &Insertion{Hits: 0}
	for i := 0; i < 5; i++ {
		assert.True(t, ins.Consume())
	}
}
