package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ManifestEntry describes one recorded trial in a session manifest.
type ManifestEntry struct {
	Filename        string  `json:"filename"`
	ClassID         int     `json:"class_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Recording is one raw CSV recording: named channel columns of equal
// length plus the class id carried over from the manifest.
type Recording struct {
	Columns map[string][]float64
	ClassID int
	Source  string
}

// Samples returns the recording length in samples.
func (r *Recording) Samples() int {
	for _, col := range r.Columns {
		return len(col)
	}
	return 0
}

// Channel returns the named column, or an error naming the channels that
// are actually present.
func (r *Recording) Channel(name string) ([]float64, error) {
	if col, ok := r.Columns[name]; ok {
		return col, nil
	}
	var have []string
	for k := range r.Columns {
		have = append(have, k)
	}
	return nil, fmt.Errorf("channel %q not present (have %s)", name, strings.Join(have, ", "))
}

// Columns that are bookkeeping rather than EEG signal.
var metadataColumns = map[string]bool{
	"timestamp":    true,
	"sample_index": true,
	"class_id":     true,
	"session_id":   true,
}

// ReadManifest loads a session-level JSON manifest.
func ReadManifest(path string) ([]ManifestEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	return entries, nil
}

// ReadRecording parses one per-trial CSV. The first row is a header;
// every column not recognized as metadata is treated as an EEG channel.
func ReadRecording(path string, classID int) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open recording")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", path)
	}

	type channelCol struct {
		name string
		col  int
	}
	var channels []channelCol
	for i, name := range header {
		name = strings.TrimSpace(name)
		if !metadataColumns[strings.ToLower(name)] {
			channels = append(channels, channelCol{name: name, col: i})
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%s: no channel columns in header %v", path, header)
	}

	rec := &Recording{
		Columns: make(map[string][]float64, len(channels)),
		ClassID: classID,
		Source:  filepath.Base(path),
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		// A malformed row mid-file must not silently truncate the
		// recording; the zero-padded tail would corrupt the trial.
		if err != nil {
			return nil, errors.Wrapf(err, "%s: row %d", path, rec.Samples()+2)
		}
		for _, ch := range channels {
			if ch.col >= len(row) {
				return nil, fmt.Errorf("%s: row shorter than header", path)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[ch.col]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: column %s", path, ch.name)
			}
			rec.Columns[ch.name] = append(rec.Columns[ch.name], v)
		}
	}
	if rec.Samples() == 0 {
		return nil, fmt.Errorf("%s: no sample rows", path)
	}
	return rec, nil
}

// LoadSession reads a manifest and every recording it lists. Unreadable
// or malformed recordings are skipped with a warning; an empty result is
// a fatal configuration error since training cannot proceed without data.
func LoadSession(dir, manifestName string) ([]*Recording, error) {
	entries, err := ReadManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}

	var recs []*Recording
	for _, e := range entries {
		rec, err := ReadRecording(filepath.Join(dir, e.Filename), e.ClassID)
		if err != nil {
			fmt.Printf("Warning: skipping trial %s: %v\n", e.Filename, err)
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no readable trials in %s (%d listed)", dir, len(entries))
	}
	return recs, nil
}
