package outline

import (
	"fmt"
	"strings"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/keypath"
)

// Severity classifies a compile issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of the compiler. Path points into the outline document
// ("map[3][1]", "special-values-mapping.null").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Outline document keys.
const (
	keyMap            = "map"
	keyCollection     = "collection"
	keyDropRootKeys   = "dropRootKeys"
	keyPreProcessing  = "pre-processing"
	keyMapProcessing  = "map-processing"
	keyPostProcessing = "post-processing"
	keyConstants      = "context-constants"
	keySpecialValues  = "special-values-mapping"
)

// Compile parses and validates a JSON outline document.
//
// All findings are returned as issues. When at least one has error severity,
// the outline is nil and the error wraps ErrInvalidOutline.
func Compile(data []byte) (*Outline, []Issue, error) {
	root, err := jsonvalue.Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidOutline, err)
	}
	return CompileValue(root)
}

// CompileValue validates an already parsed outline document.
func CompileValue(root jsonvalue.Value) (*Outline, []Issue, error) {
	c := &compiler{}
	o := c.compile(root)

	var errs []string
	for _, iss := range c.issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss.Path+": "+iss.Message)
		}
	}
	if len(errs) > 0 {
		return nil, c.issues, fmt.Errorf("%w: %s", ErrInvalidOutline, strings.Join(errs, "; "))
	}
	return o, c.issues, nil
}

type compiler struct {
	issues []Issue
}

func (c *compiler) errorf(path, format string, args ...any) {
	c.issues = append(c.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) warnf(path, format string, args ...any) {
	c.issues = append(c.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) compile(root jsonvalue.Value) *Outline {
	if !root.IsObject() {
		c.errorf("$", "outline must be an object, got %s", root.Kind())
		return nil
	}
	doc := root.Map()

	o := &Outline{
		Constants: map[string]jsonvalue.Value{},
		Special:   DefaultSpecialValues(),
	}

	for _, k := range doc.Keys() {
		switch k {
		case keyMap, keyCollection, keyDropRootKeys, keyPreProcessing, keyMapProcessing,
			keyPostProcessing, keyConstants, keySpecialValues:
		default:
			c.warnf(k, "unknown key ignored")
		}
	}

	c.compileMap(o, doc)
	c.compileSelector(o, doc)

	o.PreProcessing = c.stageScript(doc, keyPreProcessing)
	o.MapProcessing = c.stageScript(doc, keyMapProcessing)
	o.PostProcessing = c.stageScript(doc, keyPostProcessing)

	if v, ok := doc.Get(keyConstants); ok && !v.IsNull() {
		if !v.IsObject() {
			c.errorf(keyConstants, "must be an object, got %s", v.Kind())
		} else {
			m := v.Map()
			for _, name := range m.Keys() {
				cv, _ := m.Get(name)
				o.Constants[name] = cv
			}
		}
	}

	c.compileSpecialValues(o, doc)
	return o
}

func (c *compiler) compileMap(o *Outline, doc *jsonvalue.Map) {
	raw, ok := doc.Get(keyMap)
	switch {
	case !ok:
		c.errorf(keyMap, "missing; at least one field mapping is required")
		return
	case !raw.IsArray():
		c.errorf(keyMap, "must be an array, got %s", raw.Kind())
		return
	case raw.Len() == 0:
		c.errorf(keyMap, "at least one field mapping is required")
		return
	}

	// Later mappings for the same header replace earlier ones in place.
	pos := map[string]int{}
	for i, entry := range raw.Items() {
		path := fmt.Sprintf("%s[%d]", keyMap, i)
		f, ok := c.fieldMapping(path, entry)
		if !ok {
			continue
		}
		if at, dup := pos[f.Header]; dup {
			c.warnf(path, "header %q is already mapped; this mapping replaces the earlier one", f.Header)
			o.Fields[at] = f
			continue
		}
		pos[f.Header] = len(o.Fields)
		o.Fields = append(o.Fields, f)
	}
}

func (c *compiler) fieldMapping(path string, entry jsonvalue.Value) (FieldMapping, bool) {
	if !entry.IsArray() || entry.Len() < 2 || entry.Len() > 3 {
		c.errorf(path, "must be [header, keypath] or [header, keypath, fallback]")
		return FieldMapping{}, false
	}
	items := entry.Items()

	header, ok := items[0].Str()
	if !ok {
		c.errorf(path+"[0]", "header must be a string, got %s", items[0].Kind())
		return FieldMapping{}, false
	}
	f := FieldMapping{Header: header}

	switch kp := items[1]; kp.Kind() {
	case jsonvalue.Null:
	case jsonvalue.String:
		s, _ := kp.Str()
		f.Path = keypath.Parse(s)
	default:
		c.errorf(path+"[1]", "keypath must be a string or null, got %s", kp.Kind())
		return FieldMapping{}, false
	}

	if len(items) == 3 && !items[2].IsNull() {
		fb, ok := c.fallback(path+"[2]", items[2])
		if !ok {
			return FieldMapping{}, false
		}
		f.Fallback = fb
	}

	if len(f.Path) == 0 && f.Fallback == nil {
		c.errorf(path, "header %q has neither a keypath nor a fallback script", header)
		return FieldMapping{}, false
	}
	return f, true
}

// fallback compiles {"script": ..., "args": {...}}. The key "jq" is accepted
// in place of "script".
func (c *compiler) fallback(path string, v jsonvalue.Value) (*Script, bool) {
	if !v.IsObject() {
		c.errorf(path, "fallback must be an object, got %s", v.Kind())
		return nil, false
	}
	m := v.Map()

	key := "script"
	if !m.Has(key) && m.Has("jq") {
		key = "jq"
	}
	raw, _ := m.Get(key)
	text, ok := c.scriptText(path+"."+key, raw)
	if !ok {
		return nil, false
	}
	if text == "" {
		// Identity fallback: nothing to run.
		return nil, true
	}

	s := &Script{Text: text, Args: map[string]jsonvalue.Value{}}
	if args, ok := m.Get("args"); ok && !args.IsNull() {
		if !args.IsObject() {
			c.errorf(path+".args", "must be an object, got %s", args.Kind())
			return nil, false
		}
		am := args.Map()
		for _, name := range am.Keys() {
			av, _ := am.Get(name)
			s.Args[name] = av
		}
	}
	return s, true
}

func (c *compiler) stageScript(doc *jsonvalue.Map, key string) string {
	v, ok := doc.Get(key)
	if !ok {
		return ""
	}
	text, _ := c.scriptText(key, v)
	return text
}

// scriptText normalizes a script given as a string or an array of fragments.
// Fragments are joined with newlines. The identity script "." and null both
// compile to "".
func (c *compiler) scriptText(path string, v jsonvalue.Value) (string, bool) {
	var text string
	switch v.Kind() {
	case jsonvalue.Null:
		return "", true
	case jsonvalue.String:
		text, _ = v.Str()
	case jsonvalue.Array:
		parts := make([]string, 0, v.Len())
		for i, it := range v.Items() {
			s, ok := it.Str()
			if !ok {
				c.errorf(fmt.Sprintf("%s[%d]", path, i), "script fragment must be a string, got %s", it.Kind())
				return "", false
			}
			parts = append(parts, s)
		}
		text = strings.Join(parts, "\n")
	default:
		c.errorf(path, "script must be a string or an array of strings, got %s", v.Kind())
		return "", false
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "." {
		return "", true
	}
	return trimmed, true
}

func (c *compiler) compileSelector(o *Outline, doc *jsonvalue.Map) {
	coll, hasColl := doc.Get(keyCollection)
	if hasColl && !coll.IsNull() {
		s, ok := coll.Str()
		if !ok {
			c.errorf(keyCollection, "must be a string, got %s", coll.Kind())
		} else {
			o.Collection = s
		}
	}

	if v, ok := doc.Get(keyDropRootKeys); ok && !v.IsNull() {
		b, ok := v.Bool()
		if !ok {
			c.errorf(keyDropRootKeys, "must be a boolean, got %s", v.Kind())
		} else {
			o.DropRootKeys = b
		}
	}

	if o.Collection != "" && o.DropRootKeys {
		c.errorf(keyDropRootKeys, "cannot be combined with %q", keyCollection)
	}
}

func (c *compiler) compileSpecialValues(o *Outline, doc *jsonvalue.Map) {
	v, ok := doc.Get(keySpecialValues)
	if !ok || v.IsNull() {
		return
	}
	if !v.IsObject() {
		c.errorf(keySpecialValues, "must be an object, got %s", v.Kind())
		return
	}

	m := v.Map()
	for _, k := range m.Keys() {
		path := keySpecialValues + "." + k
		var dst *string
		switch k {
		case "null":
			dst = &o.Special.Null
		case "empty":
			dst = &o.Special.Empty
		case "true":
			dst = &o.Special.True
		case "false":
			dst = &o.Special.False
		default:
			c.warnf(path, "unknown special value ignored")
			continue
		}
		sv, _ := m.Get(k)
		s, ok := sv.Str()
		if !ok {
			c.errorf(path, "replacement must be a string, got %s", sv.Kind())
			continue
		}
		*dst = s
	}
}
