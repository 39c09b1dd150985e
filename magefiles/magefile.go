// Package main contains Mage build targets for foldeval developer tooling.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir  = "bin"
	binName = "foldeval"
	cmdPkg  = "./cmd/foldeval"
	workDir = "work"
)

// projectDirs lists the directories a run expects.
var projectDirs = []string{
	workDir,
	".secrets",
}

// sampleConfig is written by Init when no foldeval.yaml exists.
const sampleConfig = `# foldeval configuration. Environment variables FOLDEVAL_<KEY> override
# these values (nested keys use underscores, e.g. FOLDEVAL_SEARCH_DATABASE).
work_dir: work
threshold: 70
parallel: 1
search:
  binary: blastp
  dbcmd_binary: blastdbcmd
  database: pdbaa
align:
  engine: kabsch
  cycles: 5
  cutoff: 2.0
notify:
  # smtp_host: smtp.example.com
  # to: [you@example.com]
  # The password is read from .secrets/smtp-password.
  subject: Program complete
`

// Init creates the working directories and a sample configuration.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	if _, err := os.Stat("foldeval.yaml"); os.IsNotExist(err) {
		if err := os.WriteFile("foldeval.yaml", []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("writing foldeval.yaml: %w", err)
		}
		fmt.Println("   foldeval.yaml")
	}
	fmt.Println("Project initialized.")
	return nil
}

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	ldflags := "-X main.version=" + version
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s (%s)\n", out, version)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Check builds the binary and runs the startup checks against the local
// configuration.
func Check() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "check")
}

// Evaluate builds the binary and runs it on the identifiers file named by
// the IDS environment variable (default identifiers.txt).
func Evaluate() error {
	mg.Deps(Init, Build)
	ids := os.Getenv("IDS")
	if ids == "" {
		ids = "identifiers.txt"
	}
	return sh.RunV(filepath.Join(binDir, binName), "run", ids)
}

// Stats prints project metrics: Go production/test LOC and documentation word count.
func Stats() error {
	prodLines, testLines, err := countGoLines(".")
	if err != nil {
		return err
	}
	docWords, err := countDocWords(".")
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prodLines)
	fmt.Printf("Lines of code (Go, tests):      %d\n", testLines)
	fmt.Printf("Words (documentation):           %d\n", docWords)
	return nil
}

// skipDir reports directories that hold no project sources.
func skipDir(name string) bool {
	return name != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == binDir || name == workDir)
}

// countGoLines counts non-blank lines in production and test Go files.
func countGoLines(root string) (prod, test int, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		n := 0
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) != "" {
				n++
			}
		}
		if strings.HasSuffix(path, "_test.go") {
			test += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, test, err
}

// countDocWords counts words in Markdown files outside skipped directories.
func countDocWords(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		total += len(strings.Fields(string(data)))
		return nil
	})
	return total, err
}
