package proxyroll

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func tmpSockPrefix(t *testing.T) string {
	dir, err := ioutil.TempDir("", "proxyroll_test")
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return filepath.Join(dir, "hot_restart")
}
