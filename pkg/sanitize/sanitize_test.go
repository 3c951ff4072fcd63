package sanitize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already safe", raw: "team-a.worker_1", want: "team-a.worker_1"},
		{name: "spaces become dashes", raw: "team a", want: "team-a"},
		{name: "path traversal characters stripped", raw: "../../etc/passwd", want: "etc-passwd"},
		{name: "repeated separators collapse", raw: "foo//bar", want: "foo-bar"},
		{name: "leading and trailing dashes trimmed", raw: "!!!hello!!!", want: "hello"},
		{name: "empty after normalization errors", raw: "!!!", wantErr: true},
		{name: "empty input errors", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Name(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNameIsIdempotent(t *testing.T) {
	inputs := []string{"team a", "../../etc/passwd", "foo//bar///baz", "x"}
	for _, in := range inputs {
		once, err := Name(in)
		require.NoError(t, err)
		twice, err := Name(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestTaskID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "simple", raw: "task-123"},
		{name: "dots and underscores", raw: "task.123_abc"},
		{name: "empty", raw: "", wantErr: true},
		{name: "path traversal", raw: "../etc/passwd", wantErr: true},
		{name: "embedded slash", raw: "team/task-1", wantErr: true},
		{name: "embedded space", raw: "task 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TaskID(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestWithinBase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "tasks", "team-a"), 0o700))

	t.Run("inside base", func(t *testing.T) {
		got, err := WithinBase(base, filepath.Join(base, "tasks", "team-a", "1"))
		require.NoError(t, err)
		assert.Contains(t, got, filepath.Join("tasks", "team-a", "1"))
	})

	t.Run("escapes via traversal", func(t *testing.T) {
		_, err := WithinBase(base, filepath.Join(base, "tasks", "..", "..", "outside"))
		require.Error(t, err)
	})

	t.Run("sibling directory sharing a prefix is rejected", func(t *testing.T) {
		sibling := base + "-evil"
		require.NoError(t, os.MkdirAll(sibling, 0o700))
		_, err := WithinBase(base, sibling)
		require.Error(t, err)
	})

	t.Run("not-yet-existent candidate under an existing directory is tolerated", func(t *testing.T) {
		got, err := WithinBase(base, filepath.Join(base, "tasks", "team-a", "2.tmp"))
		require.NoError(t, err)
		assert.Contains(t, got, "2.tmp")
	})
}
