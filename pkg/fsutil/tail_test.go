package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openWith(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestLastLine(t *testing.T) {
	long := strings.Repeat("z", 3*tailChunk+17)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", ""},
		{"only fragment", `{"a":`, ""},
		{"only blank lines", "\n \n\n", ""},
		{"single line", "one\n", "one"},
		{"ignores fragment", "one\ntwo\nthr", "two"},
		{"skips trailing blanks", "one\ntwo\n\n  \n", "two"},
		{"first line", "only\n\n", "only"},
		{"spans chunks", "one\n" + long + "\n", long},
		{"fragment spans chunks", "one\n" + long, "one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LastLine(openWith(t, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestTrimPartialLine(t *testing.T) {
	tests := []struct {
		name    string
		content string
		dropped int64
		want    string
	}{
		{"empty", "", 0, ""},
		{"clean", "a\nb\n", 0, "a\nb\n"},
		{"torn", "a\nb\n{\"c\":", 5, "a\nb\n"},
		{"only fragment", "{\"c\":", 5, ""},
		{"long fragment", "a\n" + strings.Repeat("x", 2*tailChunk), 2 * tailChunk, "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := openWith(t, tt.content)
			dropped, err := TrimPartialLine(f)
			require.NoError(t, err)
			assert.Equal(t, tt.dropped, dropped)

			data, err := os.ReadFile(f.Name())
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestAppendLine_AfterTornWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":1}\n{\"n\":"), 0o644))

	require.NoError(t, AppendLine(context.Background(), path, []byte(`{"n":3}`), Options{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":3}\n", string(data))
	assert.NoFileExists(t, LockPath(path))
}
