package organize

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// assertContents 检查目录中文件名和内容完全一致
func assertContents(t *testing.T, fs afero.Fs, dir string, want map[string]string) {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]string)
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		data, err := afero.ReadFile(fs, dir+"/"+info.Name())
		if err != nil {
			t.Fatal(err)
		}
		got[info.Name()] = string(data)
	}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("%s = %q, want %q (all: %v)", name, got[name], content, got)
		}
	}
}

func renameMap(plan *Plan) map[string]string {
	m := make(map[string]string, len(plan.Renames))
	for _, r := range plan.Renames {
		m[r.OldName] = r.NewName
	}
	return m
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModePrimaryPlain, false},
		{"A", ModePrimaryPlain, false},
		{" b ", ModeAllNumbered, false},
		{"c", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// TestPlanRenumberPrimaryPlain 主图保持原名，从图编号压缩为连续的 1..k
func TestPlanRenumberPrimaryPlain(t *testing.T) {
	files := []string{
		"/p/a (7).JPG",
		"/p/a.jpg",
		"/p/a (3).jpg",
		"/p/b (2).png",
		"/p/b (10).png",
		"/p/notes.txt",
	}
	plan := PlanRenumber(files, ModePrimaryPlain, nil)

	want := map[string]string{
		"a.jpg":      "a.jpg",
		"a (3).jpg":  "a (1).jpg",
		"a (7).JPG":  "a (2).jpg",
		"b (2).png":  "b.png",
		"b (10).png": "b (1).png",
	}
	got := renameMap(plan)
	if len(got) != len(want) {
		t.Fatalf("renames = %v", got)
	}
	for old, name := range want {
		if got[old] != name {
			t.Errorf("%s → %q, want %q", old, got[old], name)
		}
	}

	if len(plan.Unmatched) != 1 || plan.Unmatched[0] != "/p/notes.txt" {
		t.Errorf("Unmatched = %v", plan.Unmatched)
	}
	if len(plan.Groups) != 2 || plan.Groups[0].Base != "a" || plan.Groups[0].Files[0] != "a.jpg" {
		t.Errorf("Groups = %+v", plan.Groups)
	}
	if plan.WillRename() != 4 {
		t.Errorf("WillRename = %d, want 4", plan.WillRename())
	}
	for _, r := range plan.Renames {
		if r.OldName == "b (2).png" && r.Reason != "从图提升为主图" {
			t.Errorf("promotion reason = %q", r.Reason)
		}
	}
}

func TestPlanRenumberAllNumbered(t *testing.T) {
	plan := PlanRenumber([]string{"/p/x (4).jpg", "/p/x.jpg", "/p/x (1).jpg"}, ModeAllNumbered, nil)
	got := renameMap(plan)
	want := map[string]string{
		"x.jpg":     "x (1).jpg",
		"x (1).jpg": "x (2).jpg",
		"x (4).jpg": "x (3).jpg",
	}
	for old, name := range want {
		if got[old] != name {
			t.Errorf("%s → %q, want %q", old, got[old], name)
		}
	}
}

// TestPlanRenumberSeparatesDirectories 不同目录中的同名文件分别编号
func TestPlanRenumberSeparatesDirectories(t *testing.T) {
	plan := PlanRenumber([]string{"/p/a (2).jpg", "/p/sub/a (5).jpg"}, ModePrimaryPlain, nil)
	if len(plan.Groups) != 2 {
		t.Fatalf("Groups = %+v", plan.Groups)
	}
	for _, r := range plan.Renames {
		if r.NewName != "a.jpg" {
			t.Errorf("%s/%s → %s, want a.jpg", r.Dir, r.OldName, r.NewName)
		}
	}
}

// TestApplyRenumberChainedNames 目标名称被组内其他文件占用时不会互相覆盖
func TestApplyRenumberChainedNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/a.jpg":     "main",
		"/p/a (1).jpg": "one",
		"/p/a (2).jpg": "two",
		"/p/keep.txt":  "keep",
	})
	files := []string{"/p/a.jpg", "/p/a (1).jpg", "/p/a (2).jpg", "/p/keep.txt"}

	rep := ApplyRenumber(fs, PlanRenumber(files, ModeAllNumbered, nil), zap.NewNop())
	if rep.Renamed != 3 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	assertContents(t, fs, "/p", map[string]string{
		"a (1).jpg": "main",
		"a (2).jpg": "one",
		"a (3).jpg": "two",
		"keep.txt":  "keep",
	})
}

func TestApplyRenumberFillsGaps(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/a (2).jpg": "two",
		"/p/a (5).JPG": "five",
		"/p/b.png":     "b",
	})
	files := []string{"/p/a (2).jpg", "/p/a (5).JPG", "/p/b.png"}

	rep := ApplyRenumber(fs, PlanRenumber(files, ModePrimaryPlain, nil), nil)
	if rep.Renamed != 2 || rep.Unchanged != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	assertContents(t, fs, "/p", map[string]string{
		"a.jpg":     "two",
		"a (1).jpg": "five",
		"b.png":     "b",
	})
}

// TestApplyRenumberTargetHeldOutsidePlan 目标被计划外的文件占用时该文件保持原名
func TestApplyRenumberTargetHeldOutsidePlan(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/a.jpg":     "existing",
		"/p/a (2).jpg": "two",
	})

	rep := ApplyRenumber(fs, PlanRenumber([]string{"/p/a (2).jpg"}, ModePrimaryPlain, nil), nil)
	if rep.Failed != 1 || rep.Renamed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(rep.Results[0].Error, "a.jpg") {
		t.Errorf("error = %q", rep.Results[0].Error)
	}
	assertContents(t, fs, "/p", map[string]string{
		"a.jpg":     "existing",
		"a (2).jpg": "two",
	})
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"img2", "img10", true},
		{"img10", "img2", false},
		{"A", "b", true},
		{"a", "a1", true},
		{"sku-009", "sku-10", true},
	}
	for _, tt := range tests {
		if got := naturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("naturalLess(%q, %q) = %v", tt.a, tt.b, got)
		}
	}
}
