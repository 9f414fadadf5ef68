// Package cluster discovers the compute resources a run was scheduled on from
// PBS-style node and GPU files.
//
// A node file lists one hostname per allocated core. A GPU file lists one
// allocated device per line as <host>-gpu<id>, e.g. n12-gpu1.
package cluster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Environment variables consulted when no explicit path is given.
const (
	EnvNodeFile = "PBS_NODEFILE"
	EnvGPUFile  = "PBS_GPUFILE"
)

// ErrEmpty is returned by the parsers for input without a single entry.
var ErrEmpty = errors.New("cluster: no entries")

// Node is one host and the resources allocated on it.
type Node struct {
	Name  string
	Cores int
	GPUs  []int
}

// GPU is one allocated device.
type GPU struct {
	Node string
	ID   int
}

var gpuLine = regexp.MustCompile(`^(\S+)-gpu(\d+)$`)

// ParseNodeFile reads a node file. Nodes are returned in order of first
// appearance with Cores set to the number of lines naming them.
func ParseNodeFile(r io.Reader) ([]Node, error) {
	var nodes []Node
	index := make(map[string]int)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("cluster: node file line %d: malformed hostname %q", line, name)
		}
		i, ok := index[name]
		if !ok {
			i = len(nodes)
			index[name] = i
			nodes = append(nodes, Node{Name: name})
		}
		nodes[i].Cores++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cluster: read node file: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrEmpty
	}
	return nodes, nil
}

// ParseGPUFile reads a GPU file. Any line that does not match <host>-gpu<id>
// fails the whole parse.
func ParseGPUFile(r io.Reader) ([]GPU, error) {
	var gpus []GPU
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		m := gpuLine.FindStringSubmatch(text)
		if m == nil {
			return nil, fmt.Errorf("cluster: gpu file line %d: cannot parse %q", line, text)
		}
		id, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("cluster: gpu file line %d: %w", line, err)
		}
		gpus = append(gpus, GPU{Node: m[1], ID: id})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cluster: read gpu file: %w", err)
	}
	if len(gpus) == 0 {
		return nil, ErrEmpty
	}
	return gpus, nil
}

// Default describes the local machine: its hostname, every CPU, and GPU 0.
func Default() []Node {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return []Node{{Name: host, Cores: runtime.NumCPU(), GPUs: []int{0}}}
}

// Discover reads the node and GPU files, falling back to PBS_NODEFILE and
// PBS_GPUFILE for empty paths. Missing or malformed files are not errors:
// the result degrades to Default with a warning.
func Discover(nodefile, gpufile string) []Node {
	if nodefile == "" {
		nodefile = os.Getenv(EnvNodeFile)
	}
	if gpufile == "" {
		gpufile = os.Getenv(EnvGPUFile)
	}

	var nodes []Node
	if nodefile == "" {
		slog.Warn("no node file, assuming local machine", "env", EnvNodeFile)
		nodes = Default()
		nodes[0].GPUs = nil
	} else if parsed, err := parseFile(nodefile, ParseNodeFile); err != nil {
		slog.Warn("node file unusable, assuming local machine", "path", nodefile, "error", err)
		nodes = Default()
		nodes[0].GPUs = nil
	} else {
		nodes = parsed
	}

	if gpufile == "" {
		nodes[0].GPUs = []int{0}
		slog.Warn("no gpu file, assuming default GPU=0", "env", EnvGPUFile)
		return nodes
	}
	gpus, err := parseFile(gpufile, ParseGPUFile)
	if err != nil {
		nodes[0].GPUs = []int{0}
		slog.Warn("gpu file unusable, assuming default GPU=0", "path", gpufile, "error", err)
		return nodes
	}
	return Assign(nodes, gpus)
}

// Assign attaches each GPU to the node it names. A node matches a GPU host
// exactly or as the first label of a qualified name (n12 matches
// n12.cluster). GPUs on unknown hosts add a node with no cores.
func Assign(nodes []Node, gpus []GPU) []Node {
	for _, g := range gpus {
		i := findNode(nodes, g.Node)
		if i < 0 {
			nodes = append(nodes, Node{Name: g.Node})
			i = len(nodes) - 1
		}
		nodes[i].GPUs = append(nodes[i].GPUs, g.ID)
	}
	return nodes
}

// Local returns the node entry for this host, or the first node when the
// hostname is not listed.
func Local(nodes []Node) Node {
	if len(nodes) == 0 {
		return Default()[0]
	}
	if host, err := os.Hostname(); err == nil {
		if i := findNode(nodes, host); i >= 0 {
			return nodes[i]
		}
	}
	return nodes[0]
}

// TotalCores sums the cores of every node.
func TotalCores(nodes []Node) int {
	n := 0
	for _, nd := range nodes {
		n += nd.Cores
	}
	return n
}

func findNode(nodes []Node, host string) int {
	for i, n := range nodes {
		if n.Name == host || strings.HasPrefix(n.Name, host+".") || strings.HasPrefix(host, n.Name+".") {
			return i
		}
	}
	return -1
}

func parseFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}
