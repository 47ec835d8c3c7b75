package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("orco validate", func() {
	var tmpDir, repoDir, queuePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "orco-validate-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = initRepo(tmpDir)
		queuePath = filepath.Join(repoDir, "tasks.json")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("accepts a well-formed queue", func() {
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending"},
  {"id": "task-b", "order": 20, "status": "pending", "depends_on": ["task-a"]}
]`)
		cmd := exec.Command(binaryPath, "validate", "--queue", queuePath)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("valid"))
	})

	It("rejects a queue with a dependency cycle", func() {
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending", "depends_on": ["task-b"]},
  {"id": "task-b", "order": 20, "status": "pending", "depends_on": ["task-a"]}
]`)
		cmd := exec.Command(binaryPath, "validate", "--queue", queuePath)
		out, err := cmd.CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("cycle"))
	})

	It("rejects a queue with a dangling dependency", func() {
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending", "depends_on": ["ghost"]}
]`)
		cmd := exec.Command(binaryPath, "validate", "--queue", queuePath)
		out, err := cmd.CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("unknown task"))
	})

	It("rejects a queue with duplicate task ids", func() {
		writeFile(queuePath, `[
  {"id": "task-a", "order": 10, "status": "pending"},
  {"id": "task-a", "order": 20, "status": "pending"}
]`)
		cmd := exec.Command(binaryPath, "validate", "--queue", queuePath)
		out, err := cmd.CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("duplicate"))
	})
})
