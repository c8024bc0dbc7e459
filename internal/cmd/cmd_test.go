package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"iwms/config"
	"iwms/core/batch"
	"iwms/core/conflict"
	"iwms/core/history"
	"iwms/core/mapping"
	"iwms/core/naming"
	"iwms/core/scan"
)

// testEnv 临时配置、历史库和输入目录
type testEnv struct {
	dir    string
	config string
	input  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "iwms.yaml"),
		input:  filepath.Join(dir, "in"),
	}
	t.Setenv("IWMS_LOGGING_ENABLE_FILE", "false")
	t.Setenv("IWMS_LOGGING_ENABLE_CONSOLE", "false")
	t.Setenv("IWMS_HISTORY_DB_PATH", filepath.Join(dir, "history.db"))

	writeTestFile(t, env.config, []byte("version: \"2.0\"\n"))
	writeTestFile(t, filepath.Join(env.input, "photo.png"), pngBytes(t))
	writeTestFile(t, filepath.Join(env.input, "notes.txt"), []byte("notes"))
	writeTestFile(t, filepath.Join(env.input, "other.txt"), []byte("other"))
	writeTestFile(t, filepath.Join(dir, "map.csv"), []byte("原文件名,新文件名\nphoto,新照片\nnotes,备注\n"))
	return env
}

func (e *testEnv) path(elem ...string) string {
	return filepath.Join(append([]string{e.dir}, elem...)...)
}

// execute 执行命令并返回标准输出
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", e.config, "--quiet"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func globOne(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) != 1 {
		t.Fatalf("glob %s: %v %v", pattern, matches, err)
	}
	return matches[0]
}

// TestRunCommand 测试完整处理流程：输出文件、报告、运行历史
func TestRunCommand(t *testing.T) {
	env := newTestEnv(t)
	out := env.path("out")

	if _, err := env.execute(t, "run", env.input,
		"-m", env.path("map.csv"), "-o", out,
		"--skip-header", "--file-types", "all", "--no-timestamp", "--yes"); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"新照片.png", "备注.txt"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "other.txt")); !os.IsNotExist(err) {
		t.Errorf("unmapped file should not be copied: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(env.input, "notes.txt")); err != nil || string(data) != "notes" {
		t.Errorf("source modified: %q %v", data, err)
	}

	reportPath := globOne(t, filepath.Join(out, "处理报告_*.csv"))
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "新照片.png") || !strings.Contains(string(data), "other.txt") {
		t.Errorf("report content: %s", data)
	}
	globOne(t, filepath.Join(out, "映射表_*.csv"))
	globOne(t, filepath.Join(out, "处理摘要_*.txt"))

	listed, err := env.execute(t, "history", "list", "--json")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	var runs []history.RunInfo
	if err := json.Unmarshal([]byte(listed), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, listed)
	}
	if len(runs) != 1 || runs[0].Summary.Processed != 2 || runs[0].Summary.Skipped != 1 {
		t.Fatalf("runs = %+v", runs)
	}

	shown, err := env.execute(t, "history", "show", runs[0].ID[:8], "--json")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	var rep batch.Report
	if err := json.Unmarshal([]byte(shown), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.RunID != runs[0].ID || len(rep.Results) != 3 {
		t.Errorf("report = %s with %d results", rep.RunID, len(rep.Results))
	}
}

// TestRunTimestampedOutput 测试默认创建时间戳子目录
func TestRunTimestampedOutput(t *testing.T) {
	env := newTestEnv(t)
	out := env.path("out")

	if _, err := env.execute(t, "run", env.input,
		"-m", env.path("map.csv"), "-o", out, "--skip-header", "--yes", "--no-report", "--no-history"); err != nil {
		t.Fatalf("run: %v", err)
	}
	root := globOne(t, filepath.Join(out, "IWMS_重命名结果_*"))
	if _, err := os.Stat(filepath.Join(root, "新照片.png")); err != nil {
		t.Errorf("missing image in timestamped dir: %v", err)
	}
	// 默认只处理图片
	if _, err := os.Stat(filepath.Join(root, "备注.txt")); !os.IsNotExist(err) {
		t.Errorf("text file processed with image filter: %v", err)
	}
}

func TestRunRequiresMappingAndOutput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.execute(t, "run", env.input, "-o", env.path("out")); err == nil {
		t.Error("expected error without --mapping")
	}
	if _, err := env.execute(t, "run", env.input, "-m", env.path("map.csv")); err == nil {
		t.Error("expected error without --output")
	}
	if _, err := env.execute(t, "run", env.input, "-m", env.path("map.csv"), "-o", env.input); err == nil {
		t.Error("expected error when output equals input")
	}
	if _, err := env.execute(t, "run", env.input, "-m", env.path("map.csv"), "-o", env.path("out"), "-p", "keep"); err == nil {
		t.Error("expected error for an unknown policy")
	}
}

// TestPreviewCommand 测试预览不写入文件并报告冲突
func TestPreviewCommand(t *testing.T) {
	env := newTestEnv(t)
	out := env.path("out")
	writeTestFile(t, filepath.Join(out, "备注.txt"), []byte("existing"))

	stdout, err := env.execute(t, "preview", env.input,
		"-m", env.path("map.csv"), "-o", out, "--skip-header", "--file-types", "all", "--json")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	var rep batch.Report
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout)
	}
	if rep.Summary.Total != 3 || rep.Summary.Processed != 1 || rep.Summary.Conflicts != 1 || rep.Summary.Skipped != 1 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if _, err := os.Stat(filepath.Join(out, "新照片.png")); !os.IsNotExist(err) {
		t.Errorf("preview wrote output: %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	env := newTestEnv(t)
	stdout, err := env.execute(t, "parse", "photo (3).jpg", "archive.tar.gz", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var parsed []naming.ParsedName
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		t.Fatal(err)
	}
	want := []naming.ParsedName{
		{Base: "photo", Sequence: "3", Extension: ".jpg"},
		{Base: "archive.tar", Extension: ".gz"},
	}
	if len(parsed) != 2 || parsed[0] != want[0] || parsed[1] != want[1] {
		t.Errorf("parsed = %+v", parsed)
	}
}

// TestMappingCommands 测试映射表校验与模板生成
func TestMappingCommands(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.execute(t, "mapping", "check", env.path("map.csv"), "--skip-header"); err != nil {
		t.Errorf("valid mapping rejected: %v", err)
	}

	writeTestFile(t, env.path("dup.csv"), []byte("a,x\na,y\n"))
	if _, err := env.execute(t, "mapping", "check", env.path("dup.csv")); err == nil {
		t.Error("duplicate keys should fail the check")
	}

	template := env.path("tpl", "template.csv")
	if _, err := env.execute(t, "mapping", "template", template, "--from", env.input, "--file-types", "all"); err == nil {
		t.Error("--file-types is not a template flag")
	}
	if _, err := env.execute(t, "mapping", "template", template, "--from", env.input); err != nil {
		t.Fatalf("template: %v", err)
	}
	rows, err := mapping.ReadRows(template, mapping.ReadOptions{SkipHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][0] != "photo" {
		t.Errorf("template rows = %v", rows)
	}
}

func TestAnalyzeCoverage(t *testing.T) {
	result := &scan.Result{
		Root: "/in",
		Files: []scan.Entry{
			{Path: "/in/photo (1).jpg", Name: "photo (1).jpg", Size: 2 << 20},
			{Path: "/in/photo (2).jpg", Name: "photo (2).jpg", Size: 50 << 10},
			{Path: "/in/misc.png", Name: "misc.png", Size: 20 << 20},
		},
	}
	table, _ := mapping.Build([][]string{{"photo", "照片"}, {"unused", "x"}})

	rep := buildAnalysis(result, table, 2)
	if len(rep.LargestFiles) != 2 || rep.LargestFiles[0].Name != "misc.png" {
		t.Errorf("largest = %+v", rep.LargestFiles)
	}
	if rep.SizeDistribution["> 10MB"] != 1 || rep.SizeDistribution["1-5MB"] != 1 || rep.SizeDistribution["< 100KB"] != 1 {
		t.Errorf("distribution = %v", rep.SizeDistribution)
	}
	c := rep.Coverage
	if c.Mapped != 2 || c.Unmapped != 1 || len(c.UnmappedBases) != 1 || c.UnmappedBases[0] != "misc" {
		t.Errorf("coverage = %+v", c)
	}
	if len(c.UnusedKeys) != 1 || c.UnusedKeys[0] != "unused" {
		t.Errorf("unused = %v", c.UnusedKeys)
	}
}

// TestConfigSet 测试修改配置并写回文件
func TestConfigSet(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.execute(t, "config", "set", "rename.conflict_policy", "append"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.NewConfig(env.config, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy() != conflict.PolicyAppend {
		t.Errorf("Policy = %s", cfg.Policy())
	}

	if _, err := env.execute(t, "config", "set", "compression.mode", "lossless"); err == nil {
		t.Error("invalid value should be rejected")
	}
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	stdout, err := env.execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "v2.0.0") {
		t.Errorf("version output = %q", stdout)
	}
}

func TestOutputDirName(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.Local)
	if got := outputDirName("IWMS_重命名结果", now); got != "IWMS_重命名结果_2024-03-05T14-07-09-123" {
		t.Errorf("outputDirName = %q", got)
	}
}

// TestBatcher 测试静默期内的文件合并为一批并去重
func TestBatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []string, 1)
	b := newBatcher(ctx, 50*time.Millisecond, out)
	defer b.Stop()

	b.Add("/in/b.jpg")
	b.Add("/in/a.jpg")
	b.Add("/in/b.jpg")

	select {
	case files := <-out:
		if len(files) != 2 || files[0] != "/in/a.jpg" || files[1] != "/in/b.jpg" {
			t.Errorf("batch = %v", files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch not flushed")
	}

	b.Add("/in/c.jpg")
	select {
	case files := <-out:
		if len(files) != 1 || files[0] != "/in/c.jpg" {
			t.Errorf("second batch = %v", files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second batch not flushed")
	}
}

// TestOrganizeCommand 测试预览不改名，执行后编号连续
func TestOrganizeCommand(t *testing.T) {
	env := newTestEnv(t)
	dir := env.path("org")
	writeTestFile(t, filepath.Join(dir, "a (3).jpg"), []byte("three"))
	writeTestFile(t, filepath.Join(dir, "a (8).jpg"), []byte("eight"))

	out, err := env.execute(t, "organize", dir, "--dry-run", "--json")
	if err != nil {
		t.Fatalf("organize --dry-run: %v", err)
	}
	var plan struct {
		Mode    string `json:"mode"`
		Renames []struct {
			OldName string `json:"old_name"`
			NewName string `json:"new_name"`
		} `json:"renames"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, out)
	}
	if plan.Mode != "a" || len(plan.Renames) != 2 || plan.Renames[0].NewName != "a.jpg" {
		t.Errorf("plan = %+v", plan)
	}
	if _, err := os.Stat(filepath.Join(dir, "a (3).jpg")); err != nil {
		t.Errorf("dry run renamed files: %v", err)
	}

	if _, err := env.execute(t, "organize", dir, "--yes"); err != nil {
		t.Fatalf("organize: %v", err)
	}
	for name, want := range map[string]string{"a.jpg": "three", "a (1).jpg": "eight"} {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err != nil || string(data) != want {
			t.Errorf("%s = %q, %v", name, data, err)
		}
	}

	if _, err := env.execute(t, "organize", dir, "--mode", "x"); err == nil {
		t.Error("unknown mode should fail")
	}
}

// TestGroupCommand 测试按前缀移动并写出移动日志
func TestGroupCommand(t *testing.T) {
	env := newTestEnv(t)
	dir := env.path("grp")
	for _, name := range []string{"SKU1 (1).jpg", "sku1 (2).jpg", "sku2.png", "readme.txt"} {
		writeTestFile(t, filepath.Join(dir, name), []byte(name))
	}
	logPath := env.path("moves.csv")

	if _, err := env.execute(t, "group", dir, "--yes", "--move-log", logPath); err != nil {
		t.Fatalf("group: %v", err)
	}
	for _, rel := range []string{"sku1/SKU1 (1).jpg", "sku1/sku1 (2).jpg", "sku2/sku2.png", "readme.txt"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("move log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "source_path,dest_path,status") {
		t.Errorf("move log = %q", data)
	}
}
