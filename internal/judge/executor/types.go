package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type batchSubmitRequest struct {
	Submissions []submissionRequest `json:"submissions"`
}

type submissionRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

// tokenResponse is one element of the batch submit reply. Rejected
// requests come back with per-field validation errors instead of a token.
type tokenResponse struct {
	Token  string          `json:"token"`
	Errors json.RawMessage `json:"-"`
}

func (t *tokenResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if tok, ok := raw["token"]; ok {
		if err := json.Unmarshal(tok, &t.Token); err != nil {
			return fmt.Errorf("token: %w", err)
		}
		delete(raw, "token")
	}
	if len(raw) > 0 {
		t.Errors, _ = json.Marshal(raw)
	}
	return nil
}

type batchStatusResponse struct {
	Submissions []statusResponse `json:"submissions"`
}

type statusResponse struct {
	Token         string      `json:"token"`
	StatusID      *int        `json:"status_id"`
	Status        *statusInfo `json:"status"`
	Time          flexSeconds `json:"time"`
	Memory        *int64      `json:"memory"`
	Stdout        *string     `json:"stdout"`
	Stderr        *string     `json:"stderr"`
	CompileOutput *string     `json:"compile_output"`
	Message       *string     `json:"message"`
}

type statusInfo struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

func (s statusResponse) statusID() (int, bool) {
	if s.StatusID != nil {
		return *s.StatusID, true
	}
	if s.Status != nil {
		return s.Status.ID, true
	}
	return 0, false
}

// flexSeconds decodes the execution time, which the backend reports as a
// decimal string ("0.012"), a bare number, or null while still running.
type flexSeconds float64

func (f *flexSeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", s, err)
		}
		*f = flexSeconds(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexSeconds(v)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
