package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Encoder writes report records to an io.Writer.
type Encoder struct {
	w   *bufio.Writer
	now func() time.Time
}

// NewEncoder creates a new report encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   bufio.NewWriter(w),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Encode writes one record and flushes it.
func (e *Encoder) Encode(recordType RecordType, data any) error {
	if err := recordType.Validate(); err != nil {
		return fmt.Errorf("invalid record type: %w", err)
	}

	var dataBytes []byte
	if data != nil {
		var err error
		if dataBytes, err = json.Marshal(data); err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	line, err := json.Marshal(Record{Type: recordType, Timestamp: e.now(), Data: dataBytes})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// EncodeBuild writes the report header.
func (e *Encoder) EncodeBuild(h *BuildHeader) error {
	return e.Encode(RecordTypeBuild, h)
}

// EncodeStage writes a finished stage.
func (e *Encoder) EncodeStage(stage engine.Stage, d time.Duration, stageErr error) error {
	rec := &StageRecord{Stage: stage, DurationMS: d.Milliseconds()}
	if stageErr != nil {
		rec.Error = stageErr.Error()
	}
	return e.Encode(RecordTypeStage, rec)
}

// EncodeGraph writes one module record per node, in name order.
func (e *Encoder) EncodeGraph(g *engine.ModuleGraph) error {
	for _, n := range g.Nodes() {
		rec := &ModuleRecord{Name: n.Name, Kind: n.Kind, LogicalPath: n.LogicalPath, Unresolved: n.Unresolved}
		if err := e.Encode(RecordTypeModule, rec); err != nil {
			return err
		}
	}
	return nil
}

// EncodeExclusion writes the exclusion filter outcome.
func (e *Encoder) EncodeExclusion(policy engine.ExclusionPolicy, r *engine.ExclusionReport) error {
	return e.Encode(RecordTypeExclusion, &ExclusionRecord{Patterns: policy.Patterns, ExclusionReport: *r})
}

// EncodeWarnings writes one record per warning.
func (e *Encoder) EncodeWarnings(warnings []*engine.PackError) error {
	for _, w := range warnings {
		if err := e.Encode(RecordTypeWarning, w); err != nil {
			return err
		}
	}
	return nil
}

// EncodeSummary closes the report.
func (e *Encoder) EncodeSummary(b *engine.BuildRecord) error {
	return e.Encode(RecordTypeSummary, b)
}

// Decoder reads report records from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new report decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next record. It returns io.EOF at the end of the stream.
func (d *Decoder) Decode() (*Record, error) {
	for d.r.Scan() {
		line := d.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if err := rec.Type.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		return &rec, nil
	}
	if err := d.r.Err(); err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	return nil, io.EOF
}

// ParseData parses a record payload into a specific type.
func ParseData(data json.RawMessage, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse record data: %w", err)
	}
	return nil
}
