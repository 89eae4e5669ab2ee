package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Environment variables handed to every child.
const (
	EnvClusterID    = "CLUSTER_ID"
	EnvClusterCount = "CLUSTER_COUNT"
	EnvShardList    = "SHARD_LIST"
	EnvTotalShards  = "TOTAL_SHARDS"
)

// ErrRestartBudget is returned when a child keeps crashing.
var ErrRestartBudget = errors.New("cluster: restart budget exhausted")

// Manager spawns and supervises one child process per cluster.
type Manager struct {
	// Path and Args start a child; Path defaults to the running executable.
	Path string
	Args []string
	// Env is the base environment of every child; nil means os.Environ.
	Env []string

	TotalShards int
	PerCluster  int

	// RestartMax restarts are allowed per RestartInterval, per cluster.
	RestartMax      int
	RestartInterval time.Duration
	// StopTimeout is how long a child may take to exit after SIGTERM.
	StopTimeout time.Duration

	Logger *log.Logger
	Hub    *Hub
}

// Run spawns every cluster and blocks until ctx ends or a cluster gives up.
func (m *Manager) Run(ctx context.Context) error {
	plan := Plan(m.TotalShards, m.PerCluster)
	if len(plan) == 0 {
		return fmt.Errorf("cluster: nothing to spawn for %d shards", m.TotalShards)
	}
	if m.Logger == nil {
		m.Logger = log.Default()
	}
	if m.Hub == nil {
		m.Hub = NewHub(m.Logger)
	}
	if m.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		m.Path = exe
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	for id, shards := range plan {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.supervise(ctx, id, len(plan), shards); err != nil {
				cancel(err)
			}
		}()
	}
	m.Logger.Info("spawned clusters", "clusters", len(plan), "shards", m.TotalShards)
	wg.Wait()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) restartLimiter() *rate.Limiter {
	max := max(m.RestartMax, 1)
	interval := m.RestartInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(max)), max)
}

func (m *Manager) supervise(ctx context.Context, id, count int, shards []int) error {
	limiter := m.restartLimiter()
	for {
		err := m.spawn(ctx, id, count, shards)
		if ctx.Err() != nil {
			return nil
		}
		if !limiter.Allow() {
			m.Logger.Error("cluster keeps crashing", "cluster", id, "err", err)
			return fmt.Errorf("%w: cluster %d: %v", ErrRestartBudget, id, err)
		}
		m.Logger.Warn("cluster exited, respawning", "cluster", id, "err", err)
	}
}

// ChildEnv returns the variables describing cluster id to its process.
func ChildEnv(id, count, total int, shards []int) []string {
	list := make([]string, len(shards))
	for i, s := range shards {
		list[i] = strconv.Itoa(s)
	}
	return []string{
		EnvClusterID + "=" + strconv.Itoa(id),
		EnvClusterCount + "=" + strconv.Itoa(count),
		EnvShardList + "=" + strings.Join(list, ","),
		EnvTotalShards + "=" + strconv.Itoa(total),
	}
}

func (m *Manager) spawn(ctx context.Context, id, count int, shards []int) error {
	cmd := exec.CommandContext(ctx, m.Path, m.Args...)
	env := m.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, ChildEnv(id, count, m.TotalShards, shards)...)
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = m.StopTimeout
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start cluster %d: %w", id, err)
	}
	m.Logger.Info("cluster started", "cluster", id, "pid", cmd.Process.Pid, "shards", shards)

	// Attach returns once the child closes stdout; Wait must not run earlier.
	m.Hub.Attach(ctx, id, stdout, stdin)
	return cmd.Wait()
}
