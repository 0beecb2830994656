package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/store"
)

// writeTestConfig writes a config file pointing at dataDir and returns
// its path. extra is appended verbatim inside the config struct.
func writeTestConfig(t *testing.T, dataDir, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vend.cue")
	content := fmt.Sprintf("config: {\n\tdata_dir: %q\n%s}\n", dataDir, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// seedRecords writes purchase records into dataDir's store.
func seedRecords(t *testing.T, dataDir string, recs ...record.PurchaseRecord) {
	t.Helper()
	st, err := store.Open(dataDir)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now().UTC()
		}
		require.NoError(t, st.Upsert(rec))
	}
}

// runCommand executes the root command with args, capturing output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
