package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("an integration task", func() {
	var tmpDir, repoDir, queuePath, fakeCodex string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-integration-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)
		fakeCodex = writeFakeCodex(repoDir, "fake-codex", "merged up", "integrated.txt")

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "int-1", "order": 10, "status": "pending", "type": "integration", "worktree": "int-1",
   "kickoff_prompt": "fold everything into main"}
]`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("fast-forward merges its branch into the base branch on completion", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--watch-timeout-s", "5",
		)
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		data, rerr := os.ReadFile(queuePath)
		Expect(rerr).NotTo(HaveOccurred())
		var tasks []map[string]any
		Expect(json.Unmarshal(data, &tasks)).To(Succeed())
		Expect(tasks[0]["status"]).To(Equal("completed"))

		_, staterr := os.Stat(filepath.Join(repoDir, "integrated.txt"))
		Expect(staterr).NotTo(HaveOccurred(), "integrated.txt should exist on main after the ff-merge")
	})

	It("shows up in a dry-run admission preview without being spawned", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", fakeCodex,
			"--dry-run",
		)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("int-1"))

		data, rerr := os.ReadFile(queuePath)
		Expect(rerr).NotTo(HaveOccurred())
		var tasks []map[string]any
		Expect(json.Unmarshal(data, &tasks)).To(Succeed())
		Expect(tasks[0]["status"]).To(Equal("pending"), "dry-run must not mutate the queue")
	})
})
