package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-auction-tables/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TABLEGEN_PARALLEL", "TABLEGEN_OUT_DIR", "TABLEGEN_FORMAT", "TABLEGEN_METRICS_ADDR"} {
		t.Setenv(key, "")
	}
}

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func readTables(t *testing.T, dir string) map[models.Table]string {
	t.Helper()
	out := make(map[models.Table]string, len(models.Tables))
	for _, table := range models.Tables {
		data, err := os.ReadFile(filepath.Join(dir, table.DatFile()))
		if err != nil {
			t.Fatalf("read %s: %v", table.DatFile(), err)
		}
		out[table] = string(data)
	}
	return out
}

func TestRunRejectsMissingFileArguments(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no arguments", args: nil},
		{name: "verbose only", args: []string{"-v"}},
		{name: "flags only", args: []string{"-format", "json", "-parallel", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code == 0 {
				t.Fatalf("exit code = 0, want non-zero")
			}
			if !strings.Contains(stderr.String(), "Usage:") {
				t.Fatalf("stderr = %q, want usage message", stderr.String())
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout = %q, want empty", stdout.String())
			}
		})
	}
}

func TestRunWithoutJSONSourcesWritesEmptyTables(t *testing.T) {
	clearEnv(t)
	out := filepath.Join(t.TempDir(), "out")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-out-dir", out, "foo.txt", ".json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	for table, data := range readTables(t, out) {
		if data != "" {
			t.Fatalf("%s = %q, want empty", table.DatFile(), data)
		}
	}
}

func TestRunWritesTables(t *testing.T) {
	clearEnv(t)
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-out-dir", out, filepath.Join("testdata", "widget.json")}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	want := map[models.Table]string{
		models.TableItems:      "1234|\"Widget\"|\"selleruser\"|\"\"|10.00|5.00|NULL|2|2001-12-01 08:00:00|2001-12-08 08:00:00\n",
		models.TableUsers:      "\"bidder1\"|10|NULL|NULL\n\"selleruser\"|100|\"USA\"|\"Madison\"\n",
		models.TableBids:       "1234|\"bidder1\"|2001-12-02 09:00:00|6.00\n1234|\"bidder1\"|2001-12-03 09:30:00|7.50\n",
		models.TableCategories: "1234|\"Clearance\"\n1234|\"Toys\"\n",
	}
	got := readTables(t, out)
	for table, rows := range want {
		if got[table] != rows {
			t.Fatalf("%s = %q, want %q", table.DatFile(), got[table], rows)
		}
	}
	for _, line := range []string{"Tables written", "Sources:       1", "Load time:"} {
		if !strings.Contains(stdout.String(), line) {
			t.Fatalf("stdout = %q, want summary line %q", stdout.String(), line)
		}
	}
}

func TestRunKeepsRawNewlineInDescription(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	body, err := os.ReadFile(filepath.Join("testdata", "widget.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	withNewline := strings.Replace(string(body), `"Description": null`, `"Description": "a\nb \"q\""`, 1)
	source := writeSource(t, dir, "items-0.json", withNewline)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-out-dir", out, source}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	items := readTables(t, out)[models.TableItems]
	if !strings.Contains(items, "|\"a\nb \"\"q\"\"\"|") {
		t.Fatalf("Items.dat = %q, want raw newline and escaped quotes in description", items)
	}
}

func TestRunFailureWritesNothing(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		source func(t *testing.T, dir string) string
		args   []string
	}{
		{
			name: "record without item id",
			source: func(t *testing.T, dir string) string {
				return writeSource(t, dir, "broken.json", `{"Items": [{"Name": "no id"}]}`)
			},
		},
		{
			name: "malformed timestamp",
			source: func(t *testing.T, dir string) string {
				body, err := os.ReadFile(filepath.Join("testdata", "widget.json"))
				if err != nil {
					t.Fatalf("read fixture: %v", err)
				}
				bad := strings.Replace(string(body), `"Dec-08-01 08:00:00"`, `"Dec-08-01"`, 1)
				return writeSource(t, dir, "bad-time.json", bad)
			},
		},
		{
			name: "missing file",
			source: func(t *testing.T, dir string) string {
				return filepath.Join(dir, "absent.json")
			},
		},
		{
			name: "unsupported format",
			source: func(t *testing.T, dir string) string {
				return filepath.Join("testdata", "widget.json")
			},
			args: []string{"-format", "xml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "out")

			args := append([]string{"-out-dir", out}, tt.args...)
			args = append(args, filepath.Join("testdata", "widget.json"), tt.source(t, dir))

			var stdout, stderr bytes.Buffer
			if code := run(args, &stdout, &stderr); code == 0 {
				t.Fatalf("exit code = 0, want non-zero")
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				entries, _ := os.ReadDir(out)
				t.Fatalf("output dir should not exist, found %d entries (stat err %v)", len(entries), err)
			}
		})
	}
}
