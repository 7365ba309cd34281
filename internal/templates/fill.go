// Package templates turns parameterised descriptor documents into catalog
// entries. Placeholders are filled on the parsed tree, one string node at a
// time:
//
//	${KEY}           value of KEY, required
//	${KEY:default}   value of KEY, else default (which may hold placeholders)
//	${PROMPT:text}   ask the user, showing text
//
// A string that is exactly one placeholder takes the type of a supplied
// value, so a number stays a number.
package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/jsontree"
)

var (
	// ErrMissingValue is returned for a ${KEY} with no value and no default.
	ErrMissingValue = errors.New("missing template value")
	ErrSyntax       = errors.New("template syntax error")
)

const promptKey = "PROMPT"

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Prompter asks the user for a value.
type Prompter interface {
	Prompt(question string) (string, error)
}

type Filler struct {
	// Values win over the environment.
	Values    map[string]any
	LookupEnv func(string) (string, bool)
	Prompter  Prompter

	answers map[string]string
}

// Fill returns a filled copy of doc. Every missing value is reported, not
// just the first.
func (f *Filler) Fill(doc *jsontree.Node) (*jsontree.Node, error) {
	var errs []error
	out := f.fill(doc, "", &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (f *Filler) fill(n *jsontree.Node, path string, errs *[]error) *jsontree.Node {
	switch n.Kind() {
	case jsontree.Object:
		obj := jsontree.NewObject()
		for _, k := range n.Keys() {
			child, _ := n.Field(k)
			obj.SetField(k, f.fill(child, join(path, k), errs))
		}
		return obj
	case jsontree.Array:
		arr := jsontree.NewArray()
		for i, it := range n.Items() {
			arr.Append(f.fill(it, fmt.Sprintf("%s[%d]", path, i), errs))
		}
		return arr
	case jsontree.String:
		s := n.Str()
		if v, ok := f.typedValue(s); ok {
			node, err := jsontree.FromValue(v)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
				return n.Clone()
			}
			return node
		}
		out, err := f.expand(s)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
			return n.Clone()
		}
		return jsontree.NewString(out)
	}
	return n.Clone()
}

// typedValue handles a string that is one placeholder naming a supplied
// non-string value.
func (f *Filler) typedValue(s string) (any, bool) {
	if !strings.HasPrefix(s, "${") {
		return nil, false
	}
	end, err := closing(s, 2)
	if err != nil || end != len(s)-1 {
		return nil, false
	}
	name, _, _ := strings.Cut(s[2:end], ":")
	v, ok := f.Values[name]
	if !ok {
		return nil, false
	}
	if _, isString := v.(string); isString {
		return nil, false
	}
	return v, true
}

// expand substitutes every placeholder in s. "$${" is a literal "${".
func (f *Filler) expand(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], "${")
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		start := i + j
		if start > 0 && s[start-1] == '$' {
			b.WriteString(s[i : start-1])
			b.WriteString("${")
			i = start + 2
			continue
		}
		b.WriteString(s[i:start])
		end, err := closing(s, start+2)
		if err != nil {
			return "", err
		}
		val, err := f.resolve(s[start+2 : end])
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		i = end + 1
	}
	return b.String(), nil
}

// closing finds the brace closing a placeholder whose body starts at from,
// counting nested placeholders in defaults.
func closing(s string, from int) (int, error) {
	depth := 1
	for k := from; k < len(s); k++ {
		switch {
		case s[k] == '{' && k > 0 && s[k-1] == '$':
			depth++
		case s[k] == '}':
			depth--
			if depth == 0 {
				return k, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: unterminated placeholder in %q", ErrSyntax, s)
}

func (f *Filler) resolve(body string) (string, error) {
	name, def, hasDef := strings.Cut(body, ":")
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("%w: bad placeholder name %q", ErrSyntax, name)
	}
	if name == promptKey {
		question, err := f.expand(def)
		if err != nil {
			return "", err
		}
		return f.prompt(question)
	}
	if v, ok := f.Values[name]; ok {
		return fmt.Sprint(v), nil
	}
	if f.LookupEnv != nil {
		if v, ok := f.LookupEnv(name); ok && v != "" {
			return v, nil
		}
	}
	if hasDef {
		return f.expand(def)
	}
	return "", fmt.Errorf("%w: %s", ErrMissingValue, name)
}

// prompt asks once per distinct question.
func (f *Filler) prompt(question string) (string, error) {
	if v, ok := f.answers[question]; ok {
		return v, nil
	}
	if f.Prompter == nil {
		return "", fmt.Errorf("%w: %q needs an answer and there is no terminal", ErrMissingValue, question)
	}
	v, err := f.Prompter.Prompt(question)
	if err != nil {
		return "", fmt.Errorf("prompt %q: %w", question, err)
	}
	if f.answers == nil {
		f.answers = make(map[string]string)
	}
	f.answers[question] = v
	return v, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Parse reads a template document. JSON is detected by its leading brace;
// anything else is YAML.
func Parse(content []byte) (*jsontree.Node, error) {
	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "{") {
		return jsontree.Parse(content)
	}
	return jsontree.ParseYAML(content)
}

// Render parses, fills and decodes a template into a validated descriptor.
// A missing id is derived from the name.
func Render(content []byte, f *Filler) (catalog.ServerDescriptor, error) {
	doc, err := Parse(content)
	if err != nil {
		return catalog.ServerDescriptor{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	filled, err := f.Fill(doc)
	if err != nil {
		return catalog.ServerDescriptor{}, err
	}
	var d catalog.ServerDescriptor
	if err := filled.Decode(&d); err != nil {
		return catalog.ServerDescriptor{}, fmt.Errorf("decoding descriptor: %w", err)
	}
	if d.ID == "" {
		d.ID = catalog.NormalizeID(d.Name)
	} else {
		d.ID = strings.ToLower(strings.TrimSpace(d.ID))
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Category == "" {
		d.Category = "custom"
	}
	d.Source = "template"
	if len(d.Prerequisites) == 0 {
		d.Prerequisites = catalog.DefaultPrerequisites(d.Kind)
	}
	if err := d.Validate(); err != nil {
		return catalog.ServerDescriptor{}, err
	}
	return d, nil
}
