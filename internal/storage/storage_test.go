package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	logx "relaybot/pkg/logx"
)

func TestBackendsRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		driver string
		file   string
	}{
		{driver: "file", file: "seen.json"},
		{driver: "sqlite", file: "seen.db"},
		{driver: "bolt", file: "seen.bolt"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", tt.file)

			st, err := Open(Config{Driver: tt.driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", tt.driver, err)
			}

			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("initial Load: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("initial Load = %v, want empty", got)
			}

			want := []Record{
				{ID: "1", BumpedAt: "2025-01-01T00:00:00Z"},
				{ID: "2", BumpedAt: "2025-01-02T00:00:00Z"},
			}
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			// Overwrite: the second save fully replaces the first.
			want = []Record{
				{ID: "2", BumpedAt: "2025-01-03T00:00:00Z"},
				{ID: "3", BumpedAt: "2025-01-04T00:00:00Z"},
			}
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st, err = Open(Config{Driver: tt.driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })

			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			sort.Slice(got, func(i, j int) bool { return got[i].ID < got[j].ID })
			if len(got) != len(want) {
				t.Fatalf("Load = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFileLoadCreatesMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "announced.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("file content = %q, want []", b)
	}
}

func TestFileLoadCorrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "announced.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Load(context.Background()); err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
