package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tilecore/pkg/domain"
)

func writeSnapshotFile(t *testing.T, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func validSnapshot(t *testing.T) []byte {
	t.Helper()
	doc := domain.DocumentSnapshot{
		ID: "doc-1",
		SharedModels: []domain.SharedModelEntrySnapshot{{
			SharedModel: domain.SharedDataSetSnapshot{
				ID:   "sm-1",
				Type: domain.SharedDataSetType,
				Name: "animals",
				DataSet: domain.DataSetSnapshot{
					ID:   "ds-1",
					Name: "animals",
					Attributes: []domain.AttributeSnapshot{
						{ID: "a1", Name: "animal", Values: []string{"cat"}},
					},
					Cases: []domain.CaseSnapshot{{ID: "c1"}},
				},
			},
			TileIDs: []string{"t1"},
		}},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Fatalf("missing usage: %q", stderr.String())
	}
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code %d", code)
	}
}

func TestRunValidFile(t *testing.T) {
	path := writeSnapshotFile(t, "doc.json", validSnapshot(t))
	var stdout, stderr bytes.Buffer
	if code := run([]string{path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), path+": ok") {
		t.Fatalf("missing ok line: %q", stdout.String())
	}
}

func TestRunQuietSuppressesOutput(t *testing.T) {
	path := writeSnapshotFile(t, "doc.json", validSnapshot(t))
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-q", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr=%q", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("quiet mode still printed: %q", stdout.String())
	}
}

func TestRunInvalidFileFails(t *testing.T) {
	bad := writeSnapshotFile(t, "bad.json", []byte(`{"id":""}`))
	good := writeSnapshotFile(t, "good.json", validSnapshot(t))
	var stdout, stderr bytes.Buffer
	if code := run([]string{bad, good}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stderr.String(), bad+":") {
		t.Fatalf("missing failure line: %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), good+": ok") {
		t.Fatalf("good file not reported: %q", stdout.String())
	}
}

func TestRunMissingFileFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{filepath.Join(t.TempDir(), "nope.json")}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
}

func TestRunRejectsUndecodableJSON(t *testing.T) {
	path := writeSnapshotFile(t, "garbage.json", []byte("not json"))
	var stdout, stderr bytes.Buffer
	if code := run([]string{path}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stderr.String(), "decode") {
		t.Fatalf("missing decode error: %q", stderr.String())
	}
}
