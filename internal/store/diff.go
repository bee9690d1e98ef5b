package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffBackup renders the difference between a namespace's backup and its
// live file as a unified diff of the decoded documents. It returns an empty
// string when both hold the same data.
func (s *Store) DiffBackup(nsName string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	ns, err := s.namespace(nsName, true)
	if err != nil {
		return "", err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	live := s.livePath(ns.name)
	current, err := s.renderDocument(ns, live)
	if err != nil {
		return "", fmt.Errorf("live file: %w", err)
	}
	previous, err := s.renderDocument(ns, live+backupExt)
	if err != nil {
		return "", fmt.Errorf("backup file: %w", err)
	}

	return unifiedDiff(ns.name, previous, current), nil
}

// renderDocument decodes a namespace file into indented JSON. A missing
// file renders as an empty document.
func (s *Store) renderDocument(ns *namespace, path string) (string, error) {
	data, err := s.readDocument(ns, path)
	if errors.Is(err, os.ErrNotExist) {
		data = map[string]Value{}
	} else if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func unifiedDiff(name, previous, current string) string {
	if previous == current {
		return ""
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for readable output
	a, b, lineArray := dmp.DiffLinesToChars(previous, current)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- %s%s\n", name, backupExt))
	result.WriteString(fmt.Sprintf("+++ %s\n", name))
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			result.WriteString(prefix)
			result.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				result.WriteString("\n")
			}
		}
	}
	return result.String()
}
