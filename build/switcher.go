// Package build switches the repository asset to the binary format for the
// duration of an external build and back to JSON afterwards.
//
// The switch is a two-state protocol. PreBuild moves a JSON asset to binary
// and records a pending-revert flag; PostBuild reverts only when that flag
// is set. The flag lives in the cache, so with Redis configured the two
// halves may run in different processes.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/plugin/hook"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

const (
	// FlagKey records that PreBuild switched the format.
	FlagKey = "build:switched"
	// LockKey is held while Run executes a build.
	LockKey = "build:lock"
	// HookName is the name the switcher registers its hooks under.
	HookName = "build-format-switch"
	// HookPriority is the callback order of both hooks.
	HookPriority = 0
)

// ErrBuildRunning is returned by Run when another build holds the lock.
var ErrBuildRunning = errors.New("build: another build is running")

// Switcher performs the format switch around a build.
type Switcher struct {
	repo    *repo.Repo
	flags   cache.Cache
	journal *audit.Service
	logger  *zap.Logger
	lockTTL time.Duration
}

// NewSwitcher creates a Switcher. journal may be nil.
func NewSwitcher(r *repo.Repo, flags cache.Cache, journal *audit.Service, logger *zap.Logger) *Switcher {
	return &Switcher{
		repo:    r,
		flags:   flags,
		journal: journal,
		logger:  logger,
		lockTTL: time.Hour,
	}
}

// Switch changes the asset format from one format to another and saves. It
// does nothing and reports false when the settings addon is absent or the
// current format is not from. onSuccess, if set, runs after the save; when
// it fails the asset is switched back to from.
func (s *Switcher) Switch(ctx context.Context, from, to repo.Format, onSuccess func(context.Context) error) (bool, error) {
	settings := s.repo.Settings()
	if settings == nil || s.repo.Format() != from {
		return false, nil
	}
	start := time.Now()
	if err := s.repo.SetFormat(to); err != nil {
		return false, err
	}
	err := s.repo.Save()
	if err != nil {
		_ = s.repo.SetFormat(from)
	}
	s.journal.Log(audit.Entry{
		Action:     model.ActionFormatSwitch,
		AssetPath:  s.repo.Path(),
		Detail:     map[string]string{"from": from.String(), "to": to.String()},
		Err:        err,
		DurationMs: audit.Since(start),
	})
	if err != nil {
		return false, fmt.Errorf("build: switch %s -> %s: %w", from, to, err)
	}
	s.logger.Info("database format switched",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("path", s.repo.Path()))
	if onSuccess != nil {
		if err := onSuccess(ctx); err != nil {
			return false, s.revert(from, to, err)
		}
	}
	return true, nil
}

func (s *Switcher) revert(from, to repo.Format, cause error) error {
	if err := s.repo.SetFormat(from); err != nil {
		return errors.Join(cause, err)
	}
	if err := s.repo.Save(); err != nil {
		s.logger.Error("database format revert failed",
			zap.Stringer("format", from), zap.String("path", s.repo.Path()), zap.Error(err))
		return errors.Join(cause, err)
	}
	s.logger.Warn("database format switched back",
		zap.Stringer("from", to), zap.Stringer("to", from), zap.Error(cause))
	return fmt.Errorf("build: switch %s -> %s: %w", from, to, cause)
}

// Pending reports whether a PreBuild switch awaits its revert.
func (s *Switcher) Pending(ctx context.Context) (bool, error) {
	_, err := s.flags.Get(ctx, FlagKey)
	if cache.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Switcher) setPending(ctx context.Context) error {
	return s.flags.Set(ctx, FlagKey, "1", 0)
}

// PreBuild loads the repository if needed and switches a JSON asset to
// binary. A repository that cannot be loaded is left alone with a warning.
func (s *Switcher) PreBuild(ctx context.Context) error {
	if !s.repo.Loaded() {
		if err := s.repo.Load(); err != nil {
			s.logger.Warn("repository load failed", zap.Error(err))
		}
	}
	if !s.repo.Ok() {
		s.logger.Warn("can not switch database format from JSON to binary, database can not be loaded",
			zap.String("path", s.repo.Path()))
		return nil
	}
	_, err := s.Switch(ctx, repo.FormatJSON, repo.FormatBinary, s.setPending)
	return err
}

// PostBuild reverts the PreBuild switch. Without a pending switch it does
// nothing.
func (s *Switcher) PostBuild(ctx context.Context) error {
	if !s.repo.Ok() {
		return nil
	}
	pending, err := s.Pending(ctx)
	if err != nil || !pending {
		return err
	}
	if err := s.flags.Del(ctx, FlagKey); err != nil {
		return err
	}
	_, err = s.Switch(ctx, repo.FormatBinary, repo.FormatJSON, nil)
	return err
}

// Register hooks PreBuild and PostBuild onto the before_build and
// after_build events.
func (s *Switcher) Register(hc *hook.HookCenter) {
	hc.Register(hook.BeforeBuild, HookPriority, HookName, func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		return data, s.PreBuild(ctx)
	})
	hc.Register(hook.AfterBuild, HookPriority, HookName, func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		return data, s.PostBuild(ctx)
	})
}

// Runner runs an external build wrapped in the build hooks.
type Runner struct {
	hooks  *hook.HookCenter
	flags  cache.Cache
	logger *zap.Logger
	Stdout io.Writer
	Stderr io.Writer
}

func NewRunner(hc *hook.HookCenter, flags cache.Cache, logger *zap.Logger) *Runner {
	return &Runner{hooks: hc, flags: flags, logger: logger, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run triggers before_build, runs argv, then triggers after_build whatever
// the outcome. The build does not start when before_build fails.
func (r *Runner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("build: no command")
	}
	ok, err := r.flags.SetNX(ctx, LockKey, strconv.Itoa(os.Getpid()), time.Hour)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBuildRunning
	}
	defer func() { _ = r.flags.Del(context.WithoutCancel(ctx), LockKey) }()

	var buildErr error
	if _, err := r.hooks.Trigger(ctx, hook.BeforeBuild, argv); err != nil {
		buildErr = fmt.Errorf("build: before_build: %w", err)
	} else {
		start := time.Now()
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout, cmd.Stderr = r.Stdout, r.Stderr
		r.logger.Info("build started", zap.Strings("command", argv))
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("build: %s: %w", argv[0], err)
		}
		r.logger.Info("build finished",
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", buildErr == nil))
	}

	// The revert must happen even when ctx was cancelled mid-build.
	if _, err := r.hooks.Trigger(context.WithoutCancel(ctx), hook.AfterBuild, argv); err != nil {
		return errors.Join(buildErr, fmt.Errorf("build: after_build: %w", err))
	}
	return buildErr
}
