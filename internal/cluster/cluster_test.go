package cluster

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseNodeFile(t *testing.T) {
	in := "n01\nn01\nn02\n\n# comment\nn01\n"
	nodes, err := ParseNodeFile(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if nodes[0].Name != "n01" || nodes[0].Cores != 3 || nodes[1].Name != "n02" || nodes[1].Cores != 1 {
		t.Errorf("nodes = %+v", nodes)
	}
	if TotalCores(nodes) != 4 {
		t.Errorf("TotalCores = %d", TotalCores(nodes))
	}
}

func TestParseNodeFile_Errors(t *testing.T) {
	if _, err := ParseNodeFile(strings.NewReader("\n\n")); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty input err = %v, want ErrEmpty", err)
	}
	if _, err := ParseNodeFile(strings.NewReader("n01 extra\n")); err == nil {
		t.Errorf("malformed hostname accepted")
	}
}

func TestParseGPUFile(t *testing.T) {
	tests := []struct {
		in      string
		want    []GPU
		wantErr bool
	}{
		{in: "n12-gpu0\nn12-gpu1\n", want: []GPU{{"n12", 0}, {"n12", 1}}},
		{in: "node-a.cluster-gpu3\n", want: []GPU{{"node-a.cluster", 3}}},
		{in: "n12-gpu\n", wantErr: true},
		{in: "gpu0\n", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseGPUFile(strings.NewReader(tt.in))
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %+v, want %+v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: entry %d = %+v, want %+v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestAssign(t *testing.T) {
	nodes := []Node{{Name: "n01.cluster", Cores: 4}, {Name: "n02", Cores: 4}}
	nodes = Assign(nodes, []GPU{{"n01", 0}, {"n02", 1}, {"n02", 2}, {"n09", 0}})
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	if len(nodes[0].GPUs) != 1 || len(nodes[1].GPUs) != 2 || nodes[2].Name != "n09" || nodes[2].Cores != 0 {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestDiscover_FallsBackToDefault(t *testing.T) {
	t.Setenv(EnvNodeFile, "")
	t.Setenv(EnvGPUFile, "")

	nodes := Discover("", "")
	if len(nodes) != 1 || nodes[0].Cores < 1 || len(nodes[0].GPUs) != 1 || nodes[0].GPUs[0] != 0 {
		t.Errorf("default = %+v", nodes)
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "gpus")
	if err := os.WriteFile(bad, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nodes = Discover(filepath.Join(dir, "missing"), bad)
	if len(nodes) != 1 || nodes[0].GPUs[0] != 0 {
		t.Errorf("fallback = %+v", nodes)
	}
}

func TestDiscover_FromEnv(t *testing.T) {
	dir := t.TempDir()
	nf := filepath.Join(dir, "nodes")
	gf := filepath.Join(dir, "gpus")
	if err := os.WriteFile(nf, []byte("n03\nn03\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(gf, []byte("n03-gpu1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvNodeFile, nf)
	t.Setenv(EnvGPUFile, gf)

	nodes := Discover("", "")
	if len(nodes) != 1 || nodes[0].Name != "n03" || nodes[0].Cores != 2 {
		t.Fatalf("nodes = %+v", nodes)
	}
	if len(nodes[0].GPUs) != 1 || nodes[0].GPUs[0] != 1 {
		t.Errorf("gpus = %v", nodes[0].GPUs)
	}
	if got := Local(nodes).Name; got != "n03" {
		t.Errorf("Local = %q, want the only node", got)
	}
}
