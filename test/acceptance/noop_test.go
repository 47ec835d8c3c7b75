package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("a task whose agent produces no commit", func() {
	var tmpDir, repoDir, queuePath, fakeCodex string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-noop-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)
		// No commitFile: the agent reports success but never touches git.
		fakeCodex = writeFakeCodex(repoDir, "fake-codex", "looked around, nothing to change", "")

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending", "type": "code", "worktree": "task-a",
   "kickoff_prompt": "implement feature A"}
]`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("is blocked with a no-commit reason instead of being marked completed", func() {
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
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0]["status"]).To(Equal("blocked"))
		blockers, _ := tasks[0]["blockers"].([]any)
		Expect(blockers).NotTo(BeEmpty())
		Expect(blockers[0]).To(ContainSubstring("No commit produced"))
	})

	It("preserves the worktree for inspection", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--watch-timeout-s", "5",
		)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		_, err = os.Stat(filepath.Join(repoDir, "task-a", ".git"))
		Expect(err).NotTo(HaveOccurred())
	})
})
