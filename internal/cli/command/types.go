package command

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// maxSourceFile caps source files read from disk; the server rejects larger code anyway.
const maxSourceFile = 1 << 20

type FieldType int

const (
	FieldString FieldType = iota
	// FieldInt64 holds a positive id.
	FieldInt64
	// FieldFile names a path whose content replaces another field.
	FieldFile
)

type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command binds "<service> <action>" to an API route.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Usage        string
	Fields       []Field
}

func (c Command) Key() string {
	return c.Service + " " + c.Action
}

type RequestSpec struct {
	Method string
	Path   string
	Body   []byte
}

// Params are parsed key=value arguments with case-insensitive keys.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

// Canonicalize renames alias keys to their field names. An explicit field name wins over an alias.
func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		name := strings.ToLower(field.Name)
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			value, ok := p[aliasKey]
			if !ok {
				continue
			}
			delete(p, aliasKey)
			if _, set := p[name]; !set {
				p[name] = value
			}
		}
	}
}

// ParseArgs turns key=value tokens into params. Repeating a key is an error.
func ParseArgs(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", token)
		}
		if _, dup := params[strings.ToLower(key)]; dup {
			return nil, fmt.Errorf("param %s given twice", key)
		}
		params.Set(key, value)
	}
	return params, nil
}

// ParseID parses a positive int64 id.
func ParseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a valid id", value)
	}
	return id, nil
}

// ReadSource loads a source file, dropping a leading UTF-8 byte order mark.
func ReadSource(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source file failed: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSourceFile+1))
	if err != nil {
		return "", fmt.Errorf("read source file failed: %w", err)
	}
	if len(data) > maxSourceFile {
		return "", fmt.Errorf("source file %s is larger than %d bytes", path, maxSourceFile)
	}
	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}
