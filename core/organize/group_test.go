package organize

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iwms/core/conflict"
)

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo", "photo"},
		{`a/b:c*d?`, "a_b_c_d_"},
		{"  many   spaces  ", "many spaces"},
		{"", UnclassifiedFolder},
		{"..", UnclassifiedFolder},
	}
	for _, tt := range tests {
		if got := SanitizeFolderName(tt.in, 100); got != tt.want {
			t.Errorf("SanitizeFolderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("商品", 40)
	got := SanitizeFolderName(long, 20)
	if utf8.RuneCountInString(got) != 20 {
		t.Errorf("truncated length = %d, want 20 (%q)", utf8.RuneCountInString(got), got)
	}
	if got == SanitizeFolderName(long+"x", 20) {
		t.Error("different long names should get different hash suffixes")
	}
}

func TestPlanGroups(t *testing.T) {
	files := []string{
		"/p/Photo (2).jpg",
		"/p/photo.JPG",
		"/p/photo/photo (1).jpg",
		"/p/notes.txt",
		"/p/sku:01.png",
	}
	moves := PlanGroups("/p", files, DefaultGroupOptions())
	if len(moves) != 4 {
		t.Fatalf("moves = %+v", moves)
	}

	byName := make(map[string]Move)
	for _, m := range moves {
		byName[m.Source] = m
	}
	if m := byName["/p/Photo (2).jpg"]; m.Folder != "photo" || m.Target != "/p/photo/Photo (2).jpg" || m.Status != MoveStatusPlanned {
		t.Errorf("Photo (2) = %+v", m)
	}
	if m := byName["/p/photo/photo (1).jpg"]; m.Status != MoveStatusSkipped {
		t.Errorf("file already in its folder should be skipped: %+v", m)
	}
	if m := byName["/p/sku:01.png"]; m.Folder != "sku_01" {
		t.Errorf("sanitized folder = %q", m.Folder)
	}

	opts := DefaultGroupOptions()
	opts.CaseSensitive = true
	for _, m := range PlanGroups("/p", files[:2], opts) {
		if m.Source == "/p/Photo (2).jpg" && m.Folder != "Photo" {
			t.Errorf("case-sensitive folder = %q", m.Folder)
		}
	}
}

func TestApplyGroupsConflictPolicies(t *testing.T) {
	tests := []struct {
		policy  conflict.Policy
		moved   int
		skipped int
		want    map[string]string
	}{
		{conflict.PolicySkip, 2, 1, map[string]string{"a.jpg": "root", "a (1).jpg": "one"}},
		{conflict.PolicyAppend, 3, 0, map[string]string{"a.jpg": "root", "a_conflict-1.jpg": "sub", "a (1).jpg": "one"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFiles(t, fs, map[string]string{
				"/p/a.jpg":     "root",
				"/p/a (1).jpg": "one",
				"/p/sub/a.jpg": "sub",
			})
			files := []string{"/p/a.jpg", "/p/a (1).jpg", "/p/sub/a.jpg"}
			opts := DefaultGroupOptions()
			opts.Policy = tt.policy

			rep := ApplyGroups(fs, PlanGroups("/p", files, opts), tt.policy, zap.NewNop())
			if rep.Moved != tt.moved || rep.Skipped != tt.skipped || rep.Failed != 0 {
				t.Fatalf("report = %+v", rep)
			}
			if len(rep.Folders) != 1 || rep.Folders[0] != "/p/a" {
				t.Errorf("Folders = %v", rep.Folders)
			}
			assertContents(t, fs, "/p/a", tt.want)

			exists, _ := afero.Exists(fs, "/p/sub/a.jpg")
			if tt.policy == conflict.PolicySkip && !exists {
				t.Error("skipped file should stay in place")
			}
			if tt.policy == conflict.PolicyAppend && exists {
				t.Error("appended file should have been moved")
			}
		})
	}
}

func TestWriteMoveLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/p/a.jpg": "a", "/p/a/a.jpg": "old"})
	moves := PlanGroups("/p", []string{"/p/a.jpg"}, DefaultGroupOptions())
	moves = append(moves, Move{Source: "/p/gone.jpg", Target: "/p/gone/gone.jpg", Folder: "gone", Status: MoveStatusPlanned})

	rep := ApplyGroups(fs, moves, conflict.PolicySkip, nil)
	var buf bytes.Buffer
	if err := WriteMoveLog(&buf, rep.Moves); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// 表头 + 失败的一条，跳过的不写入
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if strings.Join(rows[0], ",") != "source_path,dest_path,status,timestamp,error" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "/p/gone.jpg" || rows[1][2] != MoveStatusFailed || rows[1][4] == "" {
		t.Errorf("failed row = %v", rows[1])
	}
}
