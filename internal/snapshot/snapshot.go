// Package snapshot reads planning inputs (tasks and workers) from YAML, JSON
// or CSV files.
//
// CSV files hold one record per line. Lines starting with '#' are comments.
//
//	task,<id>,<x>,<y>,<priority>[,<duration minutes>]
//	worker,<id>,<x>,<y>,<available>[,<load>[,<max tasks>]]
package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Load reads the snapshot at path, picking the decoder from the file extension.
func Load(path string) (model.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer f.Close()
	format, err := FormatFromPath(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	return Decode(f, format)
}

func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Decode parses r in the given format. Workers without maxTasks get 1.
func Decode(r io.Reader, format string) (model.Snapshot, error) {
	var snap model.Snapshot
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil && err != io.EOF {
			return model.Snapshot{}, fmt.Errorf("decode yaml snapshot: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&snap); err != nil {
			return model.Snapshot{}, fmt.Errorf("decode json snapshot: %w", err)
		}
	case FormatCSV:
		var err error
		if snap, err = parseCSV(r); err != nil {
			return model.Snapshot{}, err
		}
	default:
		return model.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if snap.Tasks == nil {
		snap.Tasks = []planner.Task{}
	}
	snap.Workers = model.WithWorkerDefaults(snap.Workers)
	return snap, nil
}

// Encode writes snap as YAML or JSON.
func Encode(w io.Writer, snap model.Snapshot, format string) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func parseCSV(r io.Reader) (model.Snapshot, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	snap := model.Snapshot{Tasks: []planner.Task{}, Workers: []planner.Worker{}}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("read csv snapshot: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(record[0])) {
		case "task":
			t, err := parseTask(record)
			if err != nil {
				return model.Snapshot{}, &ParseError{Line: line, Record: record, Err: err}
			}
			snap.Tasks = append(snap.Tasks, t)
		case "worker":
			w, err := parseWorker(record)
			if err != nil {
				return model.Snapshot{}, &ParseError{Line: line, Record: record, Err: err}
			}
			snap.Workers = append(snap.Workers, w)
		default:
			return model.Snapshot{}, &ParseError{Line: line, Record: record, Err: ErrUnknownRecord}
		}
	}
	return snap, nil
}

func parseTask(record []string) (planner.Task, error) {
	if len(record) != 5 && len(record) != 6 {
		return planner.Task{}, ErrInvalidFieldCount
	}
	id, loc, err := parseHead(record)
	if err != nil {
		return planner.Task{}, err
	}
	p, err := planner.ParsePriority(record[4])
	if err != nil {
		return planner.Task{}, fmt.Errorf("%w: %v", ErrInvalidPriority, err)
	}
	t := planner.NewTask(planner.TaskID(id), loc, p)
	if len(record) == 6 && strings.TrimSpace(record[5]) != "" {
		d, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
		if err != nil {
			return planner.Task{}, fmt.Errorf("%w: %v", ErrInvalidDuration, err)
		}
		t = t.WithDuration(d)
	}
	return t, nil
}

func parseWorker(record []string) (planner.Worker, error) {
	if len(record) < 5 || len(record) > 7 {
		return planner.Worker{}, ErrInvalidFieldCount
	}
	id, loc, err := parseHead(record)
	if err != nil {
		return planner.Worker{}, err
	}
	available, err := strconv.ParseBool(strings.TrimSpace(record[4]))
	if err != nil {
		return planner.Worker{}, fmt.Errorf("%w: %v", ErrInvalidAvailable, err)
	}
	w := planner.NewWorker(planner.WorkerID(id), loc, available)
	if len(record) >= 6 {
		load, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
		if err != nil {
			return planner.Worker{}, fmt.Errorf("%w: %v", ErrInvalidLoad, err)
		}
		w = w.WithLoad(load)
	}
	if len(record) == 7 {
		n, err := strconv.Atoi(strings.TrimSpace(record[6]))
		if err != nil {
			return planner.Worker{}, fmt.Errorf("%w: %v", ErrInvalidMaxTasks, err)
		}
		w.MaxTasks = n
	}
	return w, nil
}

func parseHead(record []string) (uint64, planner.Location, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 32)
	if err != nil {
		return 0, planner.Location{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if errX != nil || errY != nil {
		return 0, planner.Location{}, fmt.Errorf("%w: (%s, %s)", ErrInvalidCoordinate, record[2], record[3])
	}
	return id, planner.NewLocation(x, y), nil
}
