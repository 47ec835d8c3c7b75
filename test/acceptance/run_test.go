package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("orco run", func() {
	var tmpDir, repoDir, queuePath, fakeCodex string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-run-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)
		fakeCodex = writeFakeCodex(repoDir, "fake-codex", "did the work", "output.txt")

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending", "type": "code", "worktree": "task-a",
   "kickoff_prompt": "implement feature A"},
  {"id": "task-b", "order": 20, "status": "pending", "type": "code", "worktree": "task-b",
   "depends_on": ["task-a"], "kickoff_prompt": "implement feature B"}
]`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("runs both tasks to completion in dependency order", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--watch-timeout-s", "5",
		)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		data, err := os.ReadFile(queuePath)
		Expect(err).NotTo(HaveOccurred())
		var tasks []map[string]any
		Expect(json.Unmarshal(data, &tasks)).To(Succeed())
		Expect(tasks).To(HaveLen(2))
		for _, t := range tasks {
			Expect(t["status"]).To(Equal("completed"), "task %v", t["id"])
			Expect(t["completed_at"]).NotTo(BeEmpty())
		}
	})

	It("removes each task's worktree once it completes", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--watch-timeout-s", "5",
		)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		worktrees := runGitOutput(repoDir, "worktree", "list")
		Expect(worktrees).NotTo(ContainSubstring("task-a"))
		Expect(worktrees).NotTo(ContainSubstring("task-b"))

		_, err = os.Stat(filepath.Join(repoDir, "task-a"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("writes a session log entry for each task", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--watch-timeout-s", "5",
		)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		logData, err := os.ReadFile(filepath.Join(repoDir, "session_log.md"))
		Expect(err).NotTo(HaveOccurred())
		log := string(logData)
		Expect(log).To(ContainSubstring("task-a"))
		Expect(log).To(ContainSubstring("task-b"))
		Expect(strings.Count(log, "task-a")).To(BeNumerically(">=", 2))
	})
})
