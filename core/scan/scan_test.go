package scan

import (
	"context"
	"testing"

	"github.com/spf13/afero"
)

func newTree(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/in/a.jpg":           "aaaa",
		"/in/B.PNG":           "bb",
		"/in/notes.txt":       "text",
		"/in/.DS_Store":       "x",
		"/in/sub/c.webp":      "cccccc",
		"/in/sub/deep/d.gif":  "d",
		"/in/out/already.jpg": "o",
		"/in/.hidden/e.jpg":   "e",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func names(r *Result) []string {
	var out []string
	for _, f := range r.Files {
		out = append(out, f.Name)
	}
	return out
}

// TestScanModes 测试递归与过滤组合
func TestScanModes(t *testing.T) {
	fs := newTree(t)
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"flat images", Options{Filter: FilterImage}, []string{"B.PNG", "a.jpg"}},
		{"flat all", Options{Filter: FilterAll}, []string{"B.PNG", "a.jpg", "notes.txt"}},
		{"recursive images", Options{Recursive: true, Filter: FilterImage, Concurrency: 2},
			[]string{"B.PNG", "a.jpg", "already.jpg", "c.webp", "d.gif"}},
		{"recursive excluding output", Options{Recursive: true, Filter: FilterImage, Exclude: []string{"/in/out"}},
			[]string{"B.PNG", "a.jpg", "c.webp", "d.gif"}},
		{"hidden included", Options{Filter: FilterAll, IncludeHidden: true},
			[]string{".DS_Store", "B.PNG", "a.jpg", "notes.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Scan(context.Background(), fs, "/in", tt.opts)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			got := names(res)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

// TestScanStats 测试扫描统计
func TestScanStats(t *testing.T) {
	res, err := Scan(context.Background(), newTree(t), "/in", Options{Filter: FilterImage})
	if err != nil {
		t.Fatal(err)
	}
	s := res.Stats
	if s.TotalFiles != 2 || s.TotalSize != 6 || s.AverageSize != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s.ByExtension[".png"].Count != 1 || s.ByExtension[".jpg"].Size != 4 {
		t.Errorf("by extension = %+v", s.ByExtension)
	}
	if len(res.Paths()) != 2 || res.Paths()[1] != "/in/a.jpg" {
		t.Errorf("paths = %v", res.Paths())
	}
}

func TestScanErrors(t *testing.T) {
	fs := newTree(t)
	if _, err := Scan(context.Background(), fs, "/missing", Options{}); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := Scan(context.Background(), fs, "/in/a.jpg", Options{}); err == nil {
		t.Error("expected error for a file root")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, fs, "/in", Options{Recursive: true}); err == nil {
		t.Error("expected error for a cancelled context")
	}
}

func TestParseFilter(t *testing.T) {
	if f, err := ParseFilter("ALL"); err != nil || f != FilterAll {
		t.Errorf("ParseFilter(ALL) = %q, %v", f, err)
	}
	if f, _ := ParseFilter(""); f != FilterImage {
		t.Errorf("default filter = %q", f)
	}
	if _, err := ParseFilter("video"); err == nil {
		t.Error("expected error")
	}
}
