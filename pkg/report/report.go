package report

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Report is a decoded build report.
type Report struct {
	Build     BuildHeader
	Stages    []StageRecord
	Modules   []ModuleRecord
	Exclusion *ExclusionRecord
	Warnings  []*engine.PackError
	Summary   *engine.BuildRecord
}

// Complete reports whether the report was closed by a summary record.
func (r *Report) Complete() bool {
	return r.Summary != nil
}

// Read decodes a whole report.
func Read(r io.Reader) (*Report, error) {
	dec := NewDecoder(r)
	rep := &Report{}
	first := true

	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if first && rec.Type != RecordTypeBuild {
			return nil, fmt.Errorf("report must start with a %s record, got %s", RecordTypeBuild, rec.Type)
		}
		first = false

		switch rec.Type {
		case RecordTypeBuild:
			err = ParseData(rec.Data, &rep.Build)
		case RecordTypeStage:
			var s StageRecord
			err = ParseData(rec.Data, &s)
			rep.Stages = append(rep.Stages, s)
		case RecordTypeModule:
			var m ModuleRecord
			err = ParseData(rec.Data, &m)
			rep.Modules = append(rep.Modules, m)
		case RecordTypeExclusion:
			rep.Exclusion = &ExclusionRecord{}
			err = ParseData(rec.Data, rep.Exclusion)
		case RecordTypeWarning:
			w := &engine.PackError{}
			err = ParseData(rec.Data, w)
			rep.Warnings = append(rep.Warnings, w)
		case RecordTypeSummary:
			rep.Summary = &engine.BuildRecord{}
			err = ParseData(rec.Data, rep.Summary)
		}
		if err != nil {
			return nil, fmt.Errorf("%s record: %w", rec.Type, err)
		}
	}

	if first {
		return nil, fmt.Errorf("empty report")
	}
	return rep, nil
}

// ReadFile decodes the report at path.
func ReadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Path returns the report path for an artifact.
func Path(artifactPath string) string {
	return artifactPath + ".report.jsonl"
}
