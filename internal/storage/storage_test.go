package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

func TestKeys(t *testing.T) {
	k := Keys{RunID: "run-1"}
	assert.Equal(t, "run-1/config/compliance_config.yaml", k.Config())
	assert.Equal(t, "run-1/inputs/", k.InputsPrefix())
	assert.Equal(t, "run-1/processing/supplier_details.pdf", k.SupplierDetails())
	assert.Equal(t, "run-1/processing/Wages_nc.pdf", k.SectionPDF("Wages"))
	assert.Equal(t, "run-1/processing/Wages_nc_data.txt", k.SectionData("Wages"))
	assert.Equal(t, "run-1/email/email.txt", k.Email())
	assert.Equal(t, "run-1/status/status.txt", k.Status())
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.pdf", "a/b.pdf", true},
		{"/a//b.pdf", "a/b.pdf", true},
		{`a\b.pdf`, "a/b.pdf", true},
		{"../etc/passwd", "", false},
		{"a/../../x", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CleanKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "r/missing.txt")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Put(ctx, "r/processing/b.txt", []byte("b")))
	require.NoError(t, s.Put(ctx, "r/processing/a.txt", []byte("a")))
	require.NoError(t, s.Put(ctx, "other/x.txt", []byte("x")))

	got, err := s.Get(ctx, "r/processing/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	ok, err := s.Exists(ctx, "r/processing/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "r/processing/c.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := s.List(ctx, "r/")
	require.NoError(t, err)
	assert.Equal(t, []string{"r/processing/a.txt", "r/processing/b.txt"}, keys)

	require.Error(t, s.Put(ctx, "../escape", []byte("no")))
}

func TestFSStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)
	testStore(t, s)

	_, err = os.Stat(filepath.Join(dir, "r", "processing", "a.txt"))
	require.NoError(t, err)

	k, ok := s.Key(filepath.Join(dir, "r", "inputs", "report.pdf"))
	assert.True(t, ok)
	assert.Equal(t, "r/inputs/report.pdf", k)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}
