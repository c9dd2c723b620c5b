package gitx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// Manager maintains a content-addressed cache of source-control checkouts
// keyed by (remote URL, branch, revision). A cached checkout is immutable:
// refreshing to a new revision produces a new directory, so concurrent
// readers are always safe and only the initial clone per key takes a writer
// lock.
type Manager struct {
	gitPath      string
	rootDir      string
	fetchTimeout time.Duration
	commitDepth  int
	logger       *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Checkout is a handle on one cached working tree.
type Checkout struct {
	Dir      string
	Remote   string
	Branch   string
	Revision string

	gitPath string
}

// Commit is a single history entry.
type Commit struct {
	Hash    string
	Subject string
	When    time.Time
}

// NewManager verifies the git binary and prepares the cache root.
func NewManager(ctx context.Context, rootDir string, fetchTimeout time.Duration, commitDepth int, logger *slog.Logger) (*Manager, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	if err := exec.CommandContext(ctx, gitPath, "version").Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkout root: %w", err)
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}
	if commitDepth <= 0 {
		commitDepth = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gitPath:      gitPath,
		rootDir:      rootDir,
		fetchTimeout: fetchTimeout,
		commitDepth:  commitDepth,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// Ensure resolves the branch pattern against the remote and returns a cached
// checkout of its current revision, cloning only when the (remote, branch,
// revision) key has not been materialised yet. Concurrent callers for the
// same key share one clone.
func (m *Manager) Ensure(ctx context.Context, remote, branchPattern string) (*Checkout, error) {
	branch, revision, err := m.resolve(ctx, remote, branchPattern)
	if err != nil {
		return nil, err
	}

	key := CacheKey(remote, branch, revision)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.materialize(ctx, key, remote, branch, revision)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Checkout), nil
}

// CacheKey derives the content address for a (remote, branch, revision)
// tuple.
func CacheKey(remote, branch, revision string) string {
	sum := sha256.Sum256([]byte(remote + "|" + branch + "|" + revision))
	return hex.EncodeToString(sum[:])[:16]
}

func (m *Manager) materialize(ctx context.Context, key, remote, branch, revision string) (*Checkout, error) {
	dir := filepath.Join(m.rootDir, key)
	co := &Checkout{Dir: dir, Remote: remote, Branch: branch, Revision: revision, gitPath: m.gitPath}

	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return co, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	m.logger.Info("cloning checkout",
		slog.String("remote", remote),
		slog.String("branch", branch),
		slog.String("revision", revision))

	cmd := exec.CommandContext(fetchCtx, m.gitPath, "clone",
		"--branch", branch,
		"--depth", fmt.Sprintf("%d", m.commitDepth),
		"--single-branch",
		remote, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, utils.TransientSource(models.SourceCheckout,
			fmt.Errorf("clone %s@%s: %w: %s", remote, branch, err, strings.TrimSpace(string(out))))
	}

	return co, nil
}

// resolve turns a lookup pattern into a concrete (branch, revision) pair.
// The LATEST_RELEASE pattern selects the highest version-ordered tag on the
// remote; any other pattern is taken as a literal branch name.
func (m *Manager) resolve(ctx context.Context, remote, pattern string) (string, string, error) {
	lsCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	if pattern == "" || pattern == models.BranchPatternLatestRelease {
		out, err := exec.CommandContext(lsCtx, m.gitPath, "ls-remote", "--tags", "--sort=-v:refname", remote).Output()
		if err != nil {
			return "", "", utils.TransientSource(models.SourceCheckout, fmt.Errorf("list remote tags: %w", err))
		}
		branch, revision, ok := ParseLatestTag(string(out))
		if !ok {
			return "", "", utils.PermanentSource(models.SourceCheckout, fmt.Errorf("no release tags on %s", remote))
		}
		return branch, revision, nil
	}

	out, err := exec.CommandContext(lsCtx, m.gitPath, "ls-remote", remote, "refs/heads/"+pattern).Output()
	if err != nil {
		return "", "", utils.TransientSource(models.SourceCheckout, fmt.Errorf("resolve branch %s: %w", pattern, err))
	}
	revision, ok := ParseHeadRevision(string(out))
	if !ok {
		return "", "", utils.PermanentSource(models.SourceCheckout, fmt.Errorf("branch %s not found on %s", pattern, remote))
	}
	return pattern, revision, nil
}

// ParseLatestTag extracts the first usable tag from version-sorted ls-remote
// output, preferring peeled (^{}) entries which point at the commit itself.
func ParseLatestTag(out string) (tag, revision string, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		ref := strings.TrimPrefix(fields[1], "refs/tags/")
		if peeled := strings.TrimSuffix(ref, "^{}"); peeled != ref {
			return peeled, fields[0], true
		}
		if tag == "" {
			tag, revision = ref, fields[0]
		}
	}
	return tag, revision, tag != ""
}

// ParseHeadRevision extracts the commit hash from single-ref ls-remote output.
func ParseHeadRevision(out string) (string, bool) {
	fields := strings.Fields(out)
	if len(fields) < 1 || len(fields[0]) < 7 {
		return "", false
	}
	return fields[0], true
}

func (m *Manager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// Location reports where the working tree lives and what it points at.
func (c *Checkout) Location() (dir, branch, revision string) {
	return c.Dir, c.Branch, c.Revision
}

// RecentCommits lists the newest commits on the checked-out branch.
func (c *Checkout) RecentCommits(ctx context.Context, n int) ([]Commit, error) {
	return c.log(ctx, n, "")
}

// CommitsTouching lists commits whose diff includes the given path.
func (c *Checkout) CommitsTouching(ctx context.Context, path string, n int) ([]Commit, error) {
	return c.log(ctx, n, path)
}

// FileHistory renders a short human-readable history for one file, used by
// the reasoning loop's source-control tool.
func (c *Checkout) FileHistory(ctx context.Context, path string, n int) (string, error) {
	if n <= 0 {
		n = 10
	}
	args := []string{"-C", c.Dir, "log", "--oneline", "-n", fmt.Sprintf("%d", n), "--", path}
	out, err := exec.CommandContext(ctx, c.gitPath, args...).Output()
	if err != nil {
		return "", utils.TransientSource(models.SourceCheckout, fmt.Errorf("file history %s: %w", path, err))
	}
	return string(out), nil
}

func (c *Checkout) log(ctx context.Context, n int, path string) ([]Commit, error) {
	if n <= 0 {
		n = 10
	}
	args := []string{"-C", c.Dir, "log", "--pretty=format:%H\x1f%s\x1f%cI", "-n", fmt.Sprintf("%d", n)}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := exec.CommandContext(ctx, c.gitPath, args...).Output()
	if err != nil {
		return nil, utils.TransientSource(models.SourceCheckout, fmt.Errorf("git log: %w", err))
	}
	return ParseLog(string(out)), nil
}

// ParseLog parses unit-separator delimited git log output.
func ParseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\x1f", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		when, _ := time.Parse(time.RFC3339, parts[2])
		commits = append(commits, Commit{Hash: parts[0], Subject: parts[1], When: when})
	}
	return commits
}
