package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("server:\n  port: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "projects/missing.yaml"}, true)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}

	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}

	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("projects/missing.yaml should be reported as missing without hash")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestGenerateChecksumsWithReportWritesChecksums(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("server:\n  port: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(filepath.Join(tmpDir, "projects"), 0755)
	if err := os.WriteFile(filepath.Join(tmpDir, "projects", "a.yaml"), []byte("projects: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "projects/a.yaml"}, false)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}
	if _, ok := manifest.Hashes["projects/a.yaml"]; !ok {
		t.Error("manifest should key project files relative to the root")
	}
}

func TestVerifyFileHashDetectsTamper(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(path, []byte("server:\n  port: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	if err := VerifyFileHash(path, hash); err != nil {
		t.Fatalf("VerifyFileHash() on untouched file: %v", err)
	}

	if err := os.WriteFile(path, []byte("server:\n  port: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyFileHash(path, hash); err == nil {
		t.Fatal("VerifyFileHash() should fail after modification")
	}
}

func TestRefreshChecksum(t *testing.T) {
	tmpDir := t.TempDir()

	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "server:\n  port: 1\n")
	if err := GenerateChecksums(tmpDir, []string{"config.yaml"}); err != nil {
		t.Fatal(err)
	}

	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "server:\n  port: 2\n")
	if err := RefreshChecksum(tmpDir, "config.yaml"); err != nil {
		t.Fatalf("RefreshChecksum() failed: %v", err)
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyFileHash(filepath.Join(tmpDir, "config.yaml"), manifest.Hashes["config.yaml"]); err != nil {
		t.Errorf("refreshed hash should match: %v", err)
	}
}
