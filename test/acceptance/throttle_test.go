package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("per-workstream throttling", func() {
	var tmpDir, repoDir, queuePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-throttle-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)

		queuePath = filepath.Join(repoDir, "tasks.json")
		writeFile(queuePath, `[
  {"id": "code-1", "order": 10, "status": "pending", "type": "code", "worktree": "code-1"},
  {"id": "code-2", "order": 20, "status": "pending", "type": "code", "worktree": "code-2"},
  {"id": "code-3", "order": 30, "status": "pending", "type": "code", "worktree": "code-3"}
]`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("admits only one task per workstream per tick when per-workstream=1", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", "/bin/true",
			"--max-workers", "3",
			"--per-workstream", "1",
			"--dry-run",
		)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))

		admitted := strings.Count(string(out), "would spawn")
		Expect(admitted).To(Equal(1))
		Expect(string(out)).To(ContainSubstring("code-1"))
	})

	It("admits up to max-workers distinct tasks when per-workstream is disabled", func() {
		cmd := exec.Command(binaryPath, "run",
			"--repo-root", repoDir,
			"--queue", "tasks.json",
			"--run-root", ".runs",
			"--codex-cmd", "/bin/true",
			"--max-workers", "3",
			"--per-workstream", "0",
			"--dry-run",
		)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))

		admitted := strings.Count(string(out), "would spawn")
		Expect(admitted).To(Equal(3))
	})
})
