package tasks

import (
	"testing"

	"github.com/lysyi3m/tender-comb/app/feed"
)

func TestTaskIdentity(t *testing.T) {
	source := &feed.Source{Code: "ES-BOE"}

	tests := []struct {
		name     string
		task     TaskInterface
		expected TaskType
	}{
		{"process", NewProcessSourceTask(source, &Pipeline{}), TaskTypeProcessSource},
		{"sync", NewSyncSourceConfigTask(source, nil), TaskTypeSyncSourceConfig},
	}

	seen := make(map[string]bool)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.task.GetType() != test.expected {
				t.Errorf("Expected type %s, got %s", test.expected, test.task.GetType())
			}
			if test.task.GetSourceCode() != "ES-BOE" {
				t.Errorf("Expected source ES-BOE, got %s", test.task.GetSourceCode())
			}
			if test.task.GetID() == "" || seen[test.task.GetID()] {
				t.Errorf("Expected a unique task id, got '%s'", test.task.GetID())
			}
			seen[test.task.GetID()] = true
			if test.task.GetDuration() != 0 {
				t.Errorf("Expected zero duration before Start, got %v", test.task.GetDuration())
			}
		})
	}
}
