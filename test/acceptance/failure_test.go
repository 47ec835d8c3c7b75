package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("an agent that exits non-zero", func() {
	var tmpDir, repoDir, queuePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-failure-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)

		path := filepath.Join(repoDir, "failing-codex")
		writeFile(path, "#!/bin/sh\ncat >/dev/null\necho 'boom' >&2\nexit 3\n")
		Expect(os.Chmod(path, 0755)).To(Succeed())

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending", "type": "code", "worktree": "task-a",
   "kickoff_prompt": "implement feature A"}
]`)

		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", path,
			"--watch-timeout-s", "5",
		)
		output, runErr := cmd.CombinedOutput()
		Expect(runErr).NotTo(HaveOccurred(), "output: %s", string(output))
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("blocks the task with the agent's exit status recorded", func() {
		data, err := os.ReadFile(queuePath)
		Expect(err).NotTo(HaveOccurred())
		var tasks []map[string]any
		Expect(json.Unmarshal(data, &tasks)).To(Succeed())
		Expect(tasks[0]["status"]).To(Equal("blocked"))
		blockers, _ := tasks[0]["blockers"].([]any)
		Expect(blockers).NotTo(BeEmpty())
		Expect(blockers[0]).To(ContainSubstring("status=failed"))
	})

	It("keeps the worker log available for inspection", func() {
		logPath := filepath.Join(repoDir, ".runs", "task-a", "worker.log")
		data, err := os.ReadFile(logPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("boom"))
	})
})
