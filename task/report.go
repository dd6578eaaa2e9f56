package task

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
)

// reportPermissions is the file mode of written reports.
const reportPermissions = 0o600

// jsonReport is the serialized form of a Report. Entries keep the traversal
// order, which is deterministic for a given graph.
type jsonReport struct {
	Visited  []string     `json:"visited"`
	Changes  []jsonChange `json:"changes"`
	Skipped  []jsonSkip   `json:"skipped"`
	Failures []jsonSkip   `json:"failures"`
}

type jsonChange struct {
	Module  string `json:"module"`
	Target  string `json:"target"`
	Version string `json:"version"`
	File    string `json:"file"`
	Index   int    `json:"index"`
}

type jsonSkip struct {
	Module string `json:"module"`
	Reason string `json:"reason"`
}

// Marshal serializes the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	out := jsonReport{
		Visited:  make([]string, 0, len(r.Visited)),
		Changes:  make([]jsonChange, 0, len(r.Changes)),
		Skipped:  make([]jsonSkip, 0, len(r.Skipped)),
		Failures: make([]jsonSkip, 0, len(r.Failures)),
	}
	for _, mv := range r.Visited {
		out.Visited = append(out.Visited, mv.String())
	}
	for _, c := range r.Changes {
		out.Changes = append(out.Changes, jsonChange{
			Module:  c.Module.String(),
			Target:  c.Target.String(),
			Version: c.Version.String(),
			File:    c.Reference.Locator.File,
			Index:   c.Reference.Locator.Index,
		})
	}
	for _, s := range r.Skipped {
		out.Skipped = append(out.Skipped, jsonSkip{Module: s.Module.String(), Reason: s.Reason})
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, jsonSkip{Module: f.Module.String(), Reason: f.Err.Error()})
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the JSON report to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	data, err := r.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// WriteFile writes the JSON report to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, reportPermissions)
}
