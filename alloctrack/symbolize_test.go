package alloctrack

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDemangle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"hash suffix stripped", "alloc::vec::Vec::push::h1a2b3c4d", "alloc::vec::Vec::push"},
		{"uppercase hex stripped", "foo::bar::hABCDEF01", "foo::bar"},
		{"no marker", "main.allocate", "main.allocate"},
		{"non-hex suffix kept", "foo::horse", "foo::horse"},
		{"empty hash kept", "foo::h", "foo::h"},
		{"last marker wins", "a::h12::bar::h34ff", "a::h12::bar"},
		{"empty name", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, demangle(tc.in))
		})
	}
}

func TestResolveSelf(t *testing.T) {
	r := newResolver(false)

	pcs := make([]uintptr, 8)
	n := runtime.Callers(1, pcs)
	require.Greater(t, n, 0)

	fi := r.resolve(pcs[0])
	require.Contains(t, fi.Func, "TestResolveSelf")
	require.Contains(t, fi.File, "symbolize_test.go")
	require.Greater(t, fi.Line, 0)
	require.NotZero(t, fi.FuncAddress)
	require.Zero(t, fi.Column)
}

func TestResolveUnknownAddress(t *testing.T) {
	r := newResolver(false)

	fi := r.resolve(0x1)
	require.Empty(t, fi.Func)
	_, ok := keyFromFrame(fi)
	require.False(t, ok)
}

func TestResolveCaches(t *testing.T) {
	r := newResolver(false)

	pcs := make([]uintptr, 4)
	runtime.Callers(1, pcs)

	first := r.resolve(pcs[0])
	second := r.resolve(pcs[0])
	require.Equal(t, first, second)
	require.Equal(t, 1, r.cache.Len())
}

func writeNumberedFile(t *testing.T, lines int) string {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= lines; i++ {
		sb.WriteString("line ")
		sb.WriteString(string(rune('0' + i%10)))
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestReadSourceContext(t *testing.T) {
	path := writeNumberedFile(t, 20)

	t.Run("middle of file", func(t *testing.T) {
		ctx := readSourceContext(path, 10)
		require.NotNil(t, ctx)
		require.Len(t, ctx.Before, 5)
		require.Len(t, ctx.After, 5)
		require.Equal(t, "line 0", ctx.Highlighted)
	})

	t.Run("clamped at start", func(t *testing.T) {
		ctx := readSourceContext(path, 2)
		require.NotNil(t, ctx)
		require.Len(t, ctx.Before, 1)
		require.Len(t, ctx.After, 5)
	})

	t.Run("clamped at end", func(t *testing.T) {
		ctx := readSourceContext(path, 19)
		require.NotNil(t, ctx)
		require.Len(t, ctx.Before, 5)
		require.Len(t, ctx.After, 1)
	})

	t.Run("line out of range", func(t *testing.T) {
		require.Nil(t, readSourceContext(path, 40))
	})

	t.Run("missing file", func(t *testing.T) {
		require.Nil(t, readSourceContext(filepath.Join(t.TempDir(), "nope.txt"), 1))
	})
}

func TestResolverSourceContext(t *testing.T) {
	r := newResolver(true)

	pcs := make([]uintptr, 4)
	runtime.Callers(1, pcs)

	fi := r.resolve(pcs[0])
	if fi.File == "" {
		t.Skip("no file info for test binary")
	}
	if _, err := os.Stat(fi.File); err != nil {
		t.Skip("test source not present at recorded path")
	}
	require.NotNil(t, fi.Context)
	require.Contains(t, fi.Context.Highlighted, "runtime.Callers")
}
