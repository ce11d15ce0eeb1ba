package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveInDirAllowsPathsInsideRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, toolErr := ResolveInDir(root, "file.txt")
	if toolErr != nil {
		t.Fatalf("unexpected error: %v", toolErr)
	}
	want, _ := filepath.Abs(filepath.Join(root, "file.txt"))
	if resolved != want {
		t.Fatalf("resolved = %q, want %q", resolved, want)
	}
}

func TestResolveInDirAllowsNestedSubdir(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	_, toolErr := ResolveInDir(root, filepath.Join("a", "b"))
	if toolErr != nil {
		t.Fatalf("unexpected error for nested subdir: %v", toolErr)
	}
}

func TestResolveInDirRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	_, toolErr := ResolveInDir(root, "../../etc/passwd")
	if toolErr == nil {
		t.Fatalf("expected an error for a path escaping the workspace")
	}
	if toolErr.Type != ErrPathNotInWorkspace {
		t.Fatalf("expected ErrPathNotInWorkspace, got %v", toolErr.Type)
	}
}

func TestResolveInDirRejectsAbsoluteEscape(t *testing.T) {
	root := t.TempDir()
	_, toolErr := ResolveInDir(root, "/etc/passwd")
	if toolErr == nil {
		t.Fatalf("expected an error for an absolute path outside the workspace")
	}
}

func TestResolveInDirRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}
	_, toolErr := ResolveInDir(root, "link")
	if toolErr == nil {
		t.Fatalf("expected an error for a symlink escaping the workspace")
	}
	if toolErr.Type != ErrSymlinkEscape {
		t.Fatalf("expected ErrSymlinkEscape, got %v", toolErr.Type)
	}
}

func TestResolveInDirAllowsSymlinkWithinRoot(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}
	_, toolErr := ResolveInDir(root, "link.txt")
	if toolErr != nil {
		t.Fatalf("symlink pointing within the workspace should be allowed: %v", toolErr)
	}
}

func TestResolveInDirAllowsNewFileThatDoesNotExistYet(t *testing.T) {
	root := t.TempDir()
	_, toolErr := ResolveInDir(root, "not-yet-created.txt")
	if toolErr != nil {
		t.Fatalf("a not-yet-existing path inside the workspace should resolve cleanly: %v", toolErr)
	}
}

func TestResolveInWorkspaceUsesCWD(t *testing.T) {
	root := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, toolErr := ResolveInWorkspace("f.txt")
	if toolErr != nil {
		t.Fatalf("unexpected error resolving within cwd-rooted workspace: %v", toolErr)
	}
	_, toolErr = ResolveInWorkspace("../outside.txt")
	if toolErr == nil {
		t.Fatalf("expected an error escaping the cwd workspace")
	}
}
