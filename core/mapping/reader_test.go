package mapping

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// TestReadCSVWithBOM 测试带BOM的UTF-8 CSV
func TestReadCSVWithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("原文件名,新文件名\nA-1,newA\nB,newB\n")...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	rows, err := ReadRows(path, ReadOptions{SkipHeader: true})
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "A-1" || rows[1][1] != "newB" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

// TestLoadSkipHeaderKeepsFileRowNumbers 测试跳过表头后校验错误仍使用文件中的行号
func TestLoadSkipHeaderKeepsFileRowNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	content := "原文件名,新文件名\nA,1\nB,2\nA,3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	table, errs, err := Load(path, ReadOptions{SkipHeader: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %v", errs)
	}
	if errs[0].Row != 4 || errs[0].Key != "A" {
		t.Errorf("error = %+v, want row 4 key A", errs[0])
	}
	if !strings.Contains(errs[0].Error(), "第4行") {
		t.Errorf("message = %q", errs[0].Error())
	}
	if got, _ := table.Lookup("A"); got != "1" {
		t.Errorf("Lookup(A) = %q, want first value", got)
	}
	for _, e := range table.Entries() {
		if e.OldKey == "B" && e.Row != 3 {
			t.Errorf("entry B row = %d, want 3", e.Row)
		}
	}
}

// TestReadCSVGBK 测试GBK编码的CSV自动转换
func TestReadCSVGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("产品图,新产品图\n"))
	if err != nil {
		t.Fatalf("GBK编码失败: %v", err)
	}
	path := filepath.Join(t.TempDir(), "gbk.csv")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	table, errs, err := Load(path, ReadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	if got, ok := table.Lookup("产品图"); !ok || got != "新产品图" {
		t.Errorf("Lookup = %q, %v", got, ok)
	}
}

// TestTemplateRoundTrip 测试导出的Excel模板可以被重新读取
func TestTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "template.xlsx")
	entries := []Entry{{OldKey: "A-1", NewBase: "newA"}, {OldKey: "B", NewBase: "newB"}}

	if err := WriteTemplate(path, entries); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}

	table, errs, err := Load(path, ReadOptions{SkipHeader: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}
	if got, _ := table.Lookup("B"); got != "newB" {
		t.Errorf("Lookup(B) = %q", got)
	}
}

func TestReadRowsUnsupportedFormat(t *testing.T) {
	if _, err := ReadRows("mapping.txt", ReadOptions{}); err == nil {
		t.Error("expected error for unsupported format")
	}
}
