package orchestrator

import "testing"

func TestRunRootNoiseMatchesKnownNoisePatterns(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"worker log growth is noise", "worker.log", true},
		{"vim swap file is noise", "prompt.md.swp", true},
		{"tmp file is noise", "scratch.tmp", true},
		{"DS_Store is noise", ".DS_Store", true},
		{"a DONE sentinel is not noise", "task-a.done", false},
		{"the prompt file is not noise", "prompt.md", false},
		{"the lock file is not noise", "orchestrator.lock", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runRootNoise.MatchesPath(tt.path)
			if got != tt.want {
				t.Errorf("MatchesPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
