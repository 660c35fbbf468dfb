package shim_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/MarcinKonowalczyk/runook/shim"
)

var _ = Describe("ReadConfig", func() {
	var (
		bundle string
		rootfs string
		args   []string
		env    []string
	)

	writeConfig := func() {
		spec := map[string]any{
			"root":    map[string]any{"path": "rootfs"},
			"process": map[string]any{"args": args, "env": env},
		}
		data, err := json.Marshal(spec)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(bundle, "config.json"), data, 0644)).To(Succeed())
	}

	BeforeEach(func() {
		bundle = GinkgoT().TempDir()
		rootfs = filepath.Join(bundle, "rootfs")
		Expect(os.MkdirAll(rootfs, 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(rootfs, "hello.ook"), []byte("Ook. Ook. Ook! Ook."), 0644)).To(Succeed())
		args = []string{"/hello.ook"}
		env = []string{"PATH=/usr/local/bin:/usr/bin"}
	})

	It("should describe the script", func() {
		writeConfig()
		cfg, err := shim.ReadConfig(bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Root).To(Equal(rootfs))
		Expect(cfg.Entrypoint).To(Equal("/hello.ook"))
		Expect(cfg.FullPath()).To(Equal(filepath.Join(rootfs, "hello.ook")))
		Expect(cfg.Path).To(Equal([]string{"/usr/local/bin", "/usr/bin"}))
		Expect(cfg.Dialect).To(BeEmpty())
		Expect(cfg.Lenient).To(BeFalse())
		Expect(cfg.InterpreterArgs()).To(Equal([]string{cfg.FullPath()}))
	})

	It("should pass the interpreter options from the environment", func() {
		env = append(env, "OOK_DIALECT=blub", "OOK_LENIENT=1", "NOT_A_PAIR")
		writeConfig()
		cfg, err := shim.ReadConfig(bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Dialect).To(Equal("blub"))
		Expect(cfg.Lenient).To(BeTrue())
		Expect(cfg.InterpreterArgs()).To(Equal([]string{"-dialect", "blub", "-lenient", cfg.FullPath()}))
	})

	It("should resolve a dialect file inside the rootfs", func() {
		Expect(os.WriteFile(filepath.Join(rootfs, "moo.yaml"), []byte{}, 0644)).To(Succeed())
		env = append(env, "OOK_DIALECT=/moo.yaml")
		writeConfig()
		cfg, err := shim.ReadConfig(bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Dialect).To(Equal(filepath.Join(rootfs, "moo.yaml")))
	})

	It("should reject a missing dialect file", func() {
		env = append(env, "OOK_DIALECT=/moo.yaml")
		writeConfig()
		_, err := shim.ReadConfig(bundle)
		Expect(err).To(MatchError(os.ErrNotExist))
	})

	It("should fail without config.json", func() {
		_, err := shim.ReadConfig(bundle)
		Expect(err).To(MatchError(ContainSubstring("config.json not found")))
	})

	It("should reject more than one argument", func() {
		args = []string{"/hello.ook", "extra"}
		writeConfig()
		_, err := shim.ReadConfig(bundle)
		Expect(err).To(MatchError(ContainSubstring("Expected 1, got 2")))
	})

	It("should reject other file types", func() {
		args = []string{"/hello.bf"}
		writeConfig()
		_, err := shim.ReadConfig(bundle)
		Expect(err).To(MatchError(ContainSubstring("is not a .ook file")))
	})

	It("should reject a missing script", func() {
		args = []string{"/missing.ook"}
		writeConfig()
		_, err := shim.ReadConfig(bundle)
		Expect(err).To(MatchError(os.ErrNotExist))
	})
})
