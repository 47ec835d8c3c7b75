package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("orco status", func() {
	var tmpDir, repoDir, queuePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-status-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "completed", "completed_at": "2026-01-01T00:00:00Z"},
  {"id": "task-b", "order": 20, "status": "blocked", "blockers": ["No commit produced on branch"]},
  {"id": "task-c", "order": 30, "status": "pending"}
]`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("lists every task with its current status", func() {
		cmd := exec.Command(binaryPath, "status", "--queue", queuePath)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))

		output := string(out)
		Expect(output).To(ContainSubstring("task-a"))
		Expect(output).To(ContainSubstring("task-b"))
		Expect(output).To(ContainSubstring("task-c"))
		Expect(output).To(ContainSubstring("No commit produced on branch"))
	})
})
