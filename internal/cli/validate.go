package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orco-dev/orco/internal/queue"
)

func init() {
	validateCmd.Flags().String("queue", "tasks.json", "path to the task queue JSON file")
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a task queue file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("queue")
		q, err := queue.Load(path)
		if err != nil {
			return err
		}

		if errs := checkQueue(q); len(errs) > 0 {
			for _, e := range errs {
				fmt.Println("error:", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errs))
		}

		fmt.Printf("%s is valid (%d tasks).\n", path, len(q.Tasks))
		return nil
	},
}

// checkQueue applies the structural checks a loaded queue can't enforce on
// its own: duplicate ids, dangling dependencies, and dependency cycles.
func checkQueue(q *queue.Queue) []string {
	var errs []string

	seen := map[string]bool{}
	for _, t := range q.Tasks {
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seen[t.ID] = true
	}

	for _, t := range q.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				errs = append(errs, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
	}

	if cyc := findCycle(q); cyc != "" {
		errs = append(errs, fmt.Sprintf("dependency cycle detected: %s", cyc))
	}

	return errs
}

// findCycle runs a DFS over depends_on edges and returns a textual
// description of the first cycle found, or "" if the graph is acyclic.
func findCycle(q *queue.Queue) string {
	deps := map[string][]string{}
	for _, t := range q.Tasks {
		deps[t.ID] = t.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Sprintf("%s -> %s", joinPath(path), dep)
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return ""
	}

	for _, t := range q.Tasks {
		if color[t.ID] == white {
			if cyc := visit(t.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}
