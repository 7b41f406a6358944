package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoadGTID(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	gtid, err := s.LoadGTID("products")
	require.NoError(t, err)
	require.Empty(t, gtid)

	require.NoError(t, s.SaveGTID("products", "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5"))
	require.NoError(t, s.SaveGTID("orders", "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-2"))

	gtid, err = s.LoadGTID("products")
	require.NoError(t, err)
	require.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5", gtid)

	all, err := s.LoadAllGTIDs()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"products": "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5",
		"orders":   "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-2",
	}, all)
}

func TestStoreSaveGTIDOverwritesPreviousValue(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveGTID("products", "uuid:1-5"))
	require.NoError(t, s.SaveGTID("products", "uuid:1-9"))

	gtid, err := s.LoadGTID("products")
	require.NoError(t, err)
	require.Equal(t, "uuid:1-9", gtid)
}

func TestStoreSaveAndLoadVars(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	vars, err := s.LoadVars()
	require.NoError(t, err)
	require.Empty(t, vars)

	require.NoError(t, s.SaveVar("api.default_limit", "50"))
	require.NoError(t, s.SaveVar("cache.enabled", "false"))

	vars, err = s.LoadVars()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"api.default_limit": "50",
		"cache.enabled":      "false",
	}, vars)
}

func TestStoreReopenPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveGTID("products", "uuid:1-5"))
	require.NoError(t, s1.SaveVar("logging.level", "debug"))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	gtid, err := s2.LoadGTID("products")
	require.NoError(t, err)
	require.Equal(t, "uuid:1-5", gtid)

	vars, err := s2.LoadVars()
	require.NoError(t, err)
	require.Equal(t, "debug", vars["logging.level"])
}
