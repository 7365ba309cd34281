package templates

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/jsontree"
)

type countingPrompter struct {
	answers map[string]string
	asked   []string
}

func (p *countingPrompter) Prompt(q string) (string, error) {
	p.asked = append(p.asked, q)
	if v, ok := p.answers[q]; ok {
		return v, nil
	}
	return "", errors.New("cancelled")
}

func noEnv(string) (string, bool) { return "", false }

func TestFillTypedAndEmbedded(t *testing.T) {
	doc, err := jsontree.Parse([]byte(`{
  "port": "${PORT}",
  "url": "http://${HOST:localhost}:${PORT}/mcp",
  "debug": "${DEBUG:false}",
  "list": ["${NAME}", "x-${NAME}"],
  "n": 3,
  "literal": "cost $${AMOUNT}"
}`))
	require.NoError(t, err)

	f := &Filler{Values: map[string]any{"PORT": 8080, "NAME": "demo"}, LookupEnv: noEnv}
	out, err := f.Fill(doc)
	require.NoError(t, err)

	port, _ := out.Field("port")
	assert.Equal(t, jsontree.Number, port.Kind())
	assert.Equal(t, "8080", port.NumberValue().String())

	url, _ := out.Field("url")
	assert.Equal(t, "http://localhost:8080/mcp", url.Str())

	dbg, _ := out.Field("debug")
	assert.Equal(t, jsontree.String, dbg.Kind())
	assert.Equal(t, "false", dbg.Str())

	list, _ := out.Field("list")
	assert.Equal(t, []any{"demo", "x-demo"}, list.Value())

	lit, _ := out.Field("literal")
	assert.Equal(t, "cost ${AMOUNT}", lit.Str())

	assert.Equal(t, []string{"port", "url", "debug", "list", "n", "literal"}, out.Keys())

	orig, _ := doc.Field("port")
	assert.Equal(t, "${PORT}", orig.Str(), "input tree is not modified")
}

func TestFillNestedDefaultsAndEnv(t *testing.T) {
	doc, err := jsontree.Parse([]byte(`{"path": "${DATA:${HOME_DIR:/home/x}/data}", "token": "${TOKEN}"}`))
	require.NoError(t, err)

	env := map[string]string{"TOKEN": "from-env"}
	f := &Filler{LookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}
	out, err := f.Fill(doc)
	require.NoError(t, err)
	p, _ := out.Field("path")
	assert.Equal(t, "/home/x/data", p.Str())
	tok, _ := out.Field("token")
	assert.Equal(t, "from-env", tok.Str())

	f.Values = map[string]any{"TOKEN": "explicit", "HOME_DIR": "/srv"}
	out, err = f.Fill(doc)
	require.NoError(t, err)
	p, _ = out.Field("path")
	assert.Equal(t, "/srv/data", p.Str())
	tok, _ = out.Field("token")
	assert.Equal(t, "explicit", tok.Str())
}

func TestFillReportsEveryMissingValue(t *testing.T) {
	doc, err := jsontree.Parse([]byte(`{"a": "${ONE}", "b": ["${TWO}"], "c": "${bad name}"}`))
	require.NoError(t, err)
	_, err = (&Filler{LookupEnv: noEnv}).Fill(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingValue)
	assert.ErrorIs(t, err, ErrSyntax)
	assert.Contains(t, err.Error(), "ONE")
	assert.Contains(t, err.Error(), "b[0]")
}

func TestUnterminatedPlaceholder(t *testing.T) {
	doc := jsontree.NewObject()
	doc.SetField("a", jsontree.NewString("${OPEN"))
	_, err := (&Filler{}).Fill(doc)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestPromptAskedOnce(t *testing.T) {
	doc, err := jsontree.Parse([]byte(`{"a": "${PROMPT:Server name}", "b": "${PROMPT:Server name}-x"}`))
	require.NoError(t, err)
	p := &countingPrompter{answers: map[string]string{"Server name": "kube"}}
	out, err := (&Filler{Prompter: p, LookupEnv: noEnv}).Fill(doc)
	require.NoError(t, err)
	b, _ := out.Field("b")
	assert.Equal(t, "kube-x", b.Str())
	assert.Equal(t, []string{"Server name"}, p.asked)

	_, err = (&Filler{LookupEnv: noEnv}).Fill(doc)
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestRenderBuiltins(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "templates.json"))
	tmpl, err := store.Get("docker")
	require.NoError(t, err)

	p := MapPrompter{"Server name": "My Fetcher", "Image reference": "mcp/fetch"}
	d, err := Render([]byte(tmpl.Content), &Filler{Prompter: p, LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, "my-fetcher", d.ID)
	assert.Equal(t, catalog.KindDocker, d.Kind)
	assert.Equal(t, "mcp/fetch", d.Spec.Image)
	assert.Equal(t, catalog.RunInteractive, d.Spec.RunMode)
	assert.Equal(t, []string{"${MCP_WORKSPACE_PATH:-./workspace}:/workspace"}, d.Spec.Volumes)
	assert.Equal(t, "custom", d.Category)
	assert.Equal(t, "template", d.Source)
	assert.Equal(t, []string{"docker"}, d.Prerequisites)
	assert.Equal(t, "Custom docker server", d.Description)
}

func TestRenderRejectsInvalidDescriptor(t *testing.T) {
	_, err := Render([]byte(`{"name": "x", "kind": "npm", "spec": {}}`), &Filler{LookupEnv: noEnv})
	assert.Error(t, err)
}

func TestStoreCRUD(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "sub", "templates.json"))

	_, err := store.Add("docker", "", "name: x")
	assert.Error(t, err, "built-in names are reserved")
	_, err = store.Add("broken", "", "{")
	assert.ErrorIs(t, err, ErrSyntax)

	added, err := store.Add("team", "team default", "name: ${PROMPT:Name}\nkind: npm\nspec:\n  package: ${PKG}\n")
	require.NoError(t, err)
	assert.Equal(t, 1, added.ID)

	got, err := store.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "team", got.Name)

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, len(Builtins())+1)

	require.NoError(t, store.Delete(1))
	assert.Error(t, store.Delete(1))
	_, err = store.Get("team")
	assert.Error(t, err)
}
