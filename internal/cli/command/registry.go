package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var codeFields = []Field{
	{Name: "language", Aliases: []string{"lang"}, Prompt: "language (c++, java, javascript)", Type: FieldString, Required: true},
	{Name: "code", Prompt: "code", Type: FieldString, Required: true},
	{Name: "file", Aliases: []string{"source_file"}, Prompt: "source file", Type: FieldFile},
}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "problem",
			Action:       "submit",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/problems/:id/submit",
			Usage:        "problem submit id=1 language=cpp file=./main.cpp",
			Fields:       append([]Field{{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true}}, codeFields...),
		},
		{
			Service:      "problem",
			Action:       "run",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/problems/:id/run",
			Usage:        "problem run id=1 language=javascript file=./main.js",
			Fields:       append([]Field{{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true}}, codeFields...),
		},
		{
			Service:      "contest",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/contests/:id",
			Usage:        "contest get id=3",
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest_id"}, Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "enter",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/contests/:id/enter",
			Usage:        "contest enter id=3",
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest_id"}, Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "solved",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/contests/:id/solved-problems",
			Usage:        "contest solved id=3",
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest_id"}, Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "submit",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/contests/:id/problems/:problemId/submit",
			Usage:        "contest submit id=3 problem=1 language=java file=./Main.java",
			Fields: append([]Field{
				{Name: "id", Aliases: []string{"contest_id"}, Prompt: "contest_id", Type: FieldInt64, Required: true},
				{Name: "problemId", Aliases: []string{"problem", "problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
			}, codeFields...),
		},
		{
			Service:      "submission",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/submissions/:id",
			Usage:        "submission get id=<submission_id>",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Usages lists the usage lines of commands in key order.
func Usages(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, commands[key].Usage)
	}
	return lines
}

// Missing returns the required fields params does not satisfy.
// A code field is satisfied by a file param.
func Missing(cmd Command, params Params) []Field {
	params.Canonicalize(cmd.Fields)
	var missing []Field
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		if field.Name == "code" && params.Get("file") != "" {
			continue
		}
		missing = append(missing, field)
	}
	return missing
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := validateFields(cmd, params); err != nil {
		return RequestSpec{}, err
	}
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method: cmd.Method,
		Path:   path,
		Body:   body,
	}, nil
}

func validateFields(cmd Command, params Params) error {
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" || field.Type != FieldInt64 {
			continue
		}
		if _, err := ParseID(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.Name, err)
		}
	}
	return nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	for _, field := range cmd.Fields {
		placeholder := ":" + field.Name
		if !strings.Contains(path, placeholder) {
			continue
		}
		value := strings.TrimSpace(params.Get(field.Name))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", field.Name)
		}
		path = strings.ReplaceAll(path, placeholder, value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Action {
	case "submit", "run":
		return buildCodePayload(params)
	}
	return nil, nil
}

func buildCodePayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if code == "" && params.Get("file") != "" {
		var err error
		code, err = ReadSource(params.Get("file"))
		if err != nil {
			return nil, err
		}
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	language := strings.TrimSpace(params.Get("language"))
	if language == "" {
		return nil, fmt.Errorf("language is required")
	}
	return map[string]string{
		"code":     code,
		"language": language,
	}, nil
}
