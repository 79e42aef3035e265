package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func getByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/collab.toml", `
[server]
host = "collab.example.com"
username = "alice"

[sync]
wait_for_ack = false
outbound_queue = 32

[presence]
palette = ["red", "blue"]
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/collab.toml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if v, _ := getByPath(config, "server.host"); v != "collab.example.com" {
		t.Errorf("server.host = %v", v)
	}
	if v, _ := getByPath(config, "sync.wait_for_ack"); v != false {
		t.Errorf("sync.wait_for_ack = %v", v)
	}
	if v, _ := getByPath(config, "sync.outbound_queue"); v != int64(32) {
		t.Errorf("sync.outbound_queue = %v (%T)", v, v)
	}
	if v, _ := getByPath(config, "presence.palette"); len(v.([]any)) != 2 {
		t.Errorf("presence.palette = %v", v)
	}
}

func TestTOMLLoader_Missing(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "/nope.toml").Load()
	if err != nil || config != nil {
		t.Errorf("Load() = %v, %v, want nil, nil", config, err)
	}
}

func TestTOMLLoader_ParseError(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.toml", "[server\nhost = 1\n")

	_, err := NewTOMLLoaderWithFS(memfs, "/bad.toml").Load()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
	if pe.Path != "/bad.toml" || pe.Line == 0 {
		t.Errorf("ParseError = %+v", pe)
	}
}

func TestYAMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/collab.yaml", `
server:
  host: localhost:50053
sync:
  auto_create: true
logging:
  level: debug
`)

	config, err := NewYAMLLoaderWithFS(memfs, "/collab.yaml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, _ := getByPath(config, "server.host"); v != "localhost:50053" {
		t.Errorf("server.host = %v", v)
	}
	if v, _ := getByPath(config, "sync.auto_create"); v != true {
		t.Errorf("sync.auto_create = %v", v)
	}
}

func TestYAMLLoader_ParseError(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.yml", "server: [unterminated\n")

	_, err := NewYAMLLoaderWithFS(memfs, "/bad.yml").Load()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
}

func TestForPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"a.toml", false},
		{"a.TOML", false},
		{"a.yaml", false},
		{"a.yml", false},
		{"a.json", true},
		{"noext", true},
	}
	for _, tt := range tests {
		_, err := ForPath(NewMemFS(), tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ForPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"server": map[string]any{"host": "a", "username": "u"},
		"sync":   map[string]any{"auto_create": false},
	}
	src := map[string]any{
		"server": map[string]any{"host": "b"},
		"sync":   "replaced",
	}

	got := DeepMerge(dst, src)
	if v, _ := getByPath(got, "server.host"); v != "b" {
		t.Errorf("server.host = %v, want b", v)
	}
	if v, _ := getByPath(got, "server.username"); v != "u" {
		t.Errorf("server.username = %v, want u", v)
	}
	if got["sync"] != "replaced" {
		t.Errorf("sync = %v, want replaced", got["sync"])
	}
}

func TestEnvLoader_Load(t *testing.T) {
	l := NewEnvLoader(DefaultEnvPrefix)
	l.environ = func() []string {
		return []string{
			"KEYSTORM_COLLAB_HOST=collab:9000",
			"KEYSTORM_COLLAB_PASSWORD=1234",
			"KEYSTORM_COLLAB_SYNC_WAIT_FOR_ACK=false",
			"KEYSTORM_COLLAB_SYNC_OUTBOUND_QUEUE=8",
			`KEYSTORM_COLLAB_PRESENCE_PALETTE=["red","green"]`,
			"UNRELATED=1",
		}
	}

	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if v, _ := getByPath(config, "server.host"); v != "collab:9000" {
		t.Errorf("server.host = %v", v)
	}
	if v, _ := getByPath(config, "server.password"); v != "1234" {
		t.Errorf("server.password = %v (%T), want verbatim string", v, v)
	}
	if v, _ := getByPath(config, "sync.wait_for_ack"); v != false {
		t.Errorf("sync.wait_for_ack = %v", v)
	}
	if v, _ := getByPath(config, "sync.outbound_queue"); v != int64(8) {
		t.Errorf("sync.outbound_queue = %v (%T)", v, v)
	}
	if v, _ := getByPath(config, "presence.palette"); len(v.([]any)) != 2 {
		t.Errorf("presence.palette = %v", v)
	}
	if _, ok := config["unrelated"]; ok {
		t.Error("unprefixed variable was loaded")
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	l := NewEnvLoader(DefaultEnvPrefix)
	tests := []struct {
		env  string
		want string
	}{
		{"KEYSTORM_COLLAB_SYNC_WAIT_FOR_ACK", "sync.wait_for_ack"},
		{"KEYSTORM_COLLAB_SERVER_HOST", "server.host"},
		{"KEYSTORM_COLLAB_SIMPLE", "simple"},
	}
	for _, tt := range tests {
		if got := l.envToPath(tt.env); got != tt.want {
			t.Errorf("envToPath(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"Off", false},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}

func TestFile_LoadFromReader(t *testing.T) {
	config, err := NewTOMLLoader("unused.toml").LoadFromReader(strings.NewReader("[logging]\nlevel = \"warn\"\n"))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if v, _ := getByPath(config, "logging.level"); v != "warn" {
		t.Errorf("logging.level = %v", v)
	}

	empty, err := NewYAMLLoader("unused.yaml").LoadFromReader(strings.NewReader(""))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty document = %v, %v, want empty map", empty, err)
	}

	_, err = NewYAMLLoader("unused.yaml").LoadFromReader(strings.NewReader("a: [b"))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Path != "<reader>" {
		t.Errorf("error = %v, want *ParseError from <reader>", err)
	}
}
