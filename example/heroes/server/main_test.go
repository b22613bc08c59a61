package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
)

func runDocs(t *testing.T, args ...string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "docs")
	argv := append([]string{"heroserver", "docs", "--env-file", "", "--out", out}, args...)
	if err := newApp().Run(argv); err != nil {
		t.Fatalf("docs failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return string(data)
}

// routerDoc is the part of the JSON docs the tests look at.
type routerDoc struct {
	Methods []struct {
		Path string `json:"path"`
	} `json:"methods"`
	Routers []*routerDoc `json:"routers"`
}

func (r *routerDoc) paths() []string {
	var out []string
	for _, m := range r.Methods {
		out = append(out, m.Path)
	}
	for _, child := range r.Routers {
		out = append(out, child.paths()...)
	}
	return out
}

func TestDocsJSON(t *testing.T) {
	var doc struct {
		Name  string     `json:"name"`
		Label string     `json:"label"`
		Root  *routerDoc `json:"root"`
	}
	if err := json.Unmarshal([]byte(runDocs(t, "--format", "json")), &doc); err != nil {
		t.Fatalf("docs output is not JSON: %v", err)
	}
	if doc.Name != "heroes" || doc.Label != "Hero server" {
		t.Errorf("Unexpected server metadata %+v", doc)
	}
	want := []string{"healthy", "hero.create", "hero.get", "hero.list", "hero.dungeon", "hero.stop_dungeon", "tasks.stop", "tasks.list"}
	if got := doc.Root.paths(); !slices.Equal(got, want) {
		t.Errorf("Expected methods %v, got %v", want, got)
	}
}

func TestDocsMarkdown(t *testing.T) {
	md := runDocs(t)
	for _, want := range []string{"# Hero server", "`hero.dungeon`", "request log", "rate limit"} {
		if !strings.Contains(md, want) {
			t.Errorf("Expected %q in markdown", want)
		}
	}
}

func TestDocsUnknownFormat(t *testing.T) {
	err := newApp().Run([]string{"heroserver", "docs", "--env-file", "", "--format", "pdf", "--out", filepath.Join(t.TempDir(), "x")})
	if err == nil {
		t.Error("Expected error for unknown format")
	}
}
