// Package link associates the machine with a repository on the backup
// server: it exchanges SSH keys, persists the configuration and waits for
// the server to confirm the repository created by a first backup.
package link

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/keys"
	"github.com/MacJediWizard/keldris-desktop/internal/patterns"
	"github.com/MacJediWizard/keldris-desktop/internal/remote"
	"github.com/MacJediWizard/keldris-desktop/internal/scheduler"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultTimeout bounds the wait for the server to confirm the repository.
const DefaultTimeout = 600 * time.Second

var repositoryNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-.]*$`)

// ValidRepositoryName reports whether name is acceptable as a repository name.
func ValidRepositoryName(name string) bool {
	return repositoryNameRE.MatchString(name)
}

// State is a step of the linking workflow.
type State int

const (
	StateIdle State = iota
	StateCheckingNameAvailability
	StateGeneratingKeys
	StateExchangingKeys
	StatePersistingConfig
	StateTriggeringInitialBackup
	StatePollingForConfirmation
	StateLinked
	StateRolledBack
)

var stateNames = map[State]string{
	StateIdle:                     "idle",
	StateCheckingNameAvailability: "checking_name_availability",
	StateGeneratingKeys:           "generating_keys",
	StateExchangingKeys:           "exchanging_keys",
	StatePersistingConfig:         "persisting_config",
	StateTriggeringInitialBackup:  "triggering_initial_backup",
	StatePollingForConfirmation:   "polling_for_confirmation",
	StateLinked:                   "linked",
	StateRolledBack:               "rolled_back",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request holds the user's linking input.
type Request struct {
	RemoteURL      string
	Username       string
	Password       string
	RepositoryName string
	// Force links to an existing repository of the same name.
	Force bool
}

// BackupTrigger starts the initial backup.
type BackupTrigger interface {
	Backup(ctx context.Context, opts backup.Options) error
}

// Deps are the collaborators of a Linker.
type Deps struct {
	Env *env.Environment
	// NewService returns a client for the server at remoteURL.
	NewService func(remoteURL string) (remote.Service, error)
	Keys       keys.Generator
	Scheduler  scheduler.Scheduler
	Backup     BackupTrigger
	Status     *status.Store
	Clock      env.Clock
	// Timeout bounds the confirmation poll. Zero means DefaultTimeout.
	Timeout time.Duration
	// Observer, when set, is told about every state change.
	Observer func(State)
	Logger   zerolog.Logger
}

// Linker runs the linking workflow.
type Linker struct {
	deps   Deps
	state  State
	logger zerolog.Logger
}

// New creates a Linker.
func New(deps Deps) *Linker {
	if deps.Clock == nil {
		deps.Clock = env.RealClock{}
	}
	if deps.Keys == nil {
		deps.Keys = keys.Ed25519Generator{}
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	return &Linker{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "linker").Logger(),
	}
}

// State returns the current workflow step.
func (l *Linker) State() State { return l.state }

func (l *Linker) enter(s State) {
	l.logger.Info().Str("from", l.state.String()).Str("to", s.String()).Msg("link state")
	l.state = s
	if l.deps.Observer != nil {
		l.deps.Observer(s)
	}
}

// Link associates the agent with req.RepositoryName on the server.
func (l *Linker) Link(ctx context.Context, req Request) error {
	l.state = StateIdle
	if !ValidRepositoryName(req.RepositoryName) {
		return errs.ErrInvalidRepositoryName
	}

	svc, err := l.deps.NewService(req.RemoteURL)
	if err != nil {
		return &errs.LinkFailedError{Err: err}
	}
	if err := svc.Authenticate(ctx, req.Username, req.Password); err != nil {
		return &errs.LinkFailedError{Err: err}
	}

	l.enter(StateCheckingNameAvailability)
	exists, err := repositoryExists(ctx, svc, req.RepositoryName)
	if err != nil {
		return &errs.LinkFailedError{Err: err}
	}
	if exists && !req.Force {
		return &errs.NameAlreadyInUseError{Name: req.RepositoryName}
	}

	cfg, err := config.Load(l.deps.Env.ConfigPath())
	if err != nil {
		return &errs.MisconfiguredError{Item: "config", Err: err}
	}
	cfg.ApplyDefaults(l.deps.Env)

	l.enter(StateGeneratingKeys)
	kp, err := l.deps.Keys.Generate(req.Username + "@" + l.deps.Env.Hostname)
	if err != nil {
		return &errs.KeyGenerationError{Err: err}
	}
	if err := kp.Write(cfg.PrivateKeyPath, cfg.PublicKeyPath); err != nil {
		return err
	}
	if fp, err := keys.Fingerprint(kp.Public); err == nil {
		l.logger.Info().Str("fingerprint", fp).Msg("ssh key generated")
	}

	l.enter(StateExchangingKeys)
	if err := svc.AddSSHKey(ctx, req.RepositoryName, string(kp.Public)); err != nil {
		return &errs.KeyExchangeError{Err: err}
	}
	identity, err := svc.GetServerIdentity(ctx)
	if err != nil {
		return &errs.KeyExchangeError{Err: err}
	}
	if err := keys.WriteKnownHosts(cfg.KnownHostsPath, []byte(identity.KnownHosts), identity.RemoteHost); err != nil {
		return &errs.LinkFailedError{Err: err}
	}

	l.enter(StatePersistingConfig)
	cfg.Username = req.Username
	cfg.RemoteHost = identity.RemoteHost
	cfg.RemoteURL = req.RemoteURL
	cfg.RepositoryName = req.RepositoryName
	cfg.Schedule = cfg.EffectiveSchedule()
	cfg.Configured = false
	if err := cfg.Save(l.deps.Env.ConfigPath()); err != nil {
		return &errs.LinkFailedError{Err: err}
	}

	if !exists {
		if err := l.bootstrap(ctx, svc, cfg, req.RepositoryName); err != nil {
			return err
		}
	} else {
		l.logger.Info().Str("repository", req.RepositoryName).Msg("linking to existing repository, skipping initial backup")
	}

	return l.finish(ctx, svc, cfg)
}

// bootstrap runs the initial backup with a minimal selection and waits for
// the server to report the repository. The user's patterns are restored on
// every path out.
func (l *Linker) bootstrap(ctx context.Context, svc remote.Service, cfg *config.ScheduleConfig, repo string) error {
	e := l.deps.Env
	original, err := patterns.Load(e.PatternsPath(), l.logger)
	if err != nil {
		l.logger.Warn().Err(err).Msg("cannot read current patterns, defaults will be restored")
		original = nil
	}
	defer l.restorePatterns(original)

	root := primaryRoot(e)
	minimal := patterns.Patterns{
		{Include: true, Value: root},
		{Include: false, Value: strings.TrimSuffix(root, "/") + "/**"},
	}
	if err := patterns.Save(e.PatternsPath(), minimal); err != nil {
		return l.rollback(cfg, &errs.LinkFailedError{Err: err})
	}

	l.enter(StateTriggeringInitialBackup)
	before := l.deps.Status.Load()
	if err := l.deps.Backup.Backup(ctx, backup.Options{Force: true, Background: true}); err != nil {
		return l.rollback(cfg, &errs.LinkFailedError{Err: err})
	}

	l.enter(StatePollingForConfirmation)
	last, err := l.poll(ctx, svc, repo, before)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return l.rollback(cfg, &errs.LinkFailedError{Err: ctx.Err()})
	}
	return l.rollback(cfg, errorFor(last))
}

var errNotConfirmed = errors.New("repository not confirmed by server")

// poll waits for repo to show up on the server. A local run that finishes
// without the repository appearing leaves at most one more iteration.
func (l *Linker) poll(ctx context.Context, svc remote.Service, repo string, before status.Status) (status.ResultKind, error) {
	clock := l.deps.Clock
	start := clock.Now()
	deadline := start.Add(l.deps.Timeout)
	shortened := false
	last := before.LastResult

	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		if err := svc.RefreshRepositories(ctx); err != nil {
			l.logger.Warn().Err(err).Msg("refresh repositories failed")
		}
		found, err := repositoryExists(ctx, svc, repo)
		if err != nil {
			l.logger.Warn().Err(err).Msg("list repositories failed")
		}
		if found {
			l.logger.Info().Dur("elapsed", clock.Now().Sub(start)).Msg("repository confirmed by server")
			return last, nil
		}

		now := clock.Now()
		st := l.deps.Status.Load()
		last = st.Effective(now)
		if !shortened && st.LastResult != status.Running && changed(before, st) {
			shortened = true
			if next := now.Add(status.HeartbeatInterval); next.Before(deadline) {
				deadline = next
			}
			l.logger.Info().Str("result", string(last)).Msg("initial backup finished, waiting one more round")
		}

		if !now.Before(deadline) {
			l.logger.Warn().Dur("elapsed", now.Sub(start)).Str("result", string(last)).Msg("repository not confirmed in time")
			return last, errNotConfirmed
		}

		wait := status.HeartbeatInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		clock.Sleep(wait)
	}
}

func changed(before, after status.Status) bool {
	if after.LastResultDate == nil {
		return false
	}
	return before.LastResultDate == nil || !after.LastResultDate.Equal(*before.LastResultDate)
}

func errorFor(last status.ResultKind) error {
	switch last {
	case status.Running:
		return &errs.InitialBackupStillRunningError{}
	case status.Failure, status.Stale:
		return &errs.InitialBackupFailedError{}
	case status.HasNotRun:
		return &errs.InitialBackupNeverStartedError{}
	}
	return &errs.LinkFailedError{Err: errNotConfirmed}
}

func (l *Linker) rollback(cfg *config.ScheduleConfig, cause error) error {
	cfg.ClearLink()
	cfg.Configured = false
	if err := cfg.Save(l.deps.Env.ConfigPath()); err != nil {
		l.logger.Error().Err(err).Msg("failed to roll back configuration")
	}
	l.enter(StateRolledBack)
	return cause
}

func (l *Linker) restorePatterns(original patterns.Patterns) {
	if len(original) == 0 {
		original = patterns.Defaults(l.deps.Env)
	}
	if err := patterns.Save(l.deps.Env.PatternsPath(), original); err != nil {
		l.logger.Error().Err(err).Msg("failed to restore patterns")
	}
}

func (l *Linker) finish(ctx context.Context, svc remote.Service, cfg *config.ScheduleConfig) error {
	cfg.Configured = true
	if err := cfg.Save(l.deps.Env.ConfigPath()); err != nil {
		return &errs.LinkFailedError{Err: err}
	}
	l.enter(StateLinked)

	encoding := EncodingName(l.deps.Env.Charset)
	if err := svc.SetRepositoryEncoding(ctx, cfg.RepositoryName, encoding); err != nil {
		l.logger.Warn().Err(err).Str("encoding", encoding).Msg("failed to set repository encoding")
	}

	if l.deps.Scheduler != nil {
		if err := l.deps.Scheduler.Create(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Unlink forgets the server link and removes the scheduled trigger. Key
// material stays on disk.
func (l *Linker) Unlink(ctx context.Context) error {
	cfg, err := config.Load(l.deps.Env.ConfigPath())
	if err != nil {
		return &errs.MisconfiguredError{Item: "config", Err: err}
	}
	cfg.ClearLink()
	cfg.Configured = false
	if err := cfg.Save(l.deps.Env.ConfigPath()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if l.deps.Scheduler == nil {
		return nil
	}
	removed, err := l.deps.Scheduler.Delete(ctx)
	if err != nil {
		return err
	}
	l.logger.Info().Bool("trigger_removed", removed).Msg("unlinked")
	return nil
}

func repositoryExists(ctx context.Context, svc remote.Service, name string) (bool, error) {
	repos, err := svc.ListRepositories(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range repos {
		if r.Name == name || strings.HasPrefix(r.Name, name+"/") {
			return true, nil
		}
	}
	return false, nil
}

// primaryRoot is the volume holding the user's home directory.
func primaryRoot(e *env.Environment) string {
	home := strings.ReplaceAll(e.Home, `\`, "/")
	if len(home) >= 2 && home[1] == ':' {
		return strings.ToUpper(home[:1]) + ":/"
	}
	return "/"
}

// EncodingName returns the MIME name of charset in lower case, or the IANA
// name when the encoding has no MIME name. Unknown charsets map to utf-8.
func EncodingName(charset string) string {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return "utf-8"
	}
	name, err := ianaindex.MIME.Name(enc)
	if err != nil || name == "" {
		name, err = ianaindex.IANA.Name(enc)
	}
	if err != nil || name == "" {
		return "utf-8"
	}
	return strings.ToLower(name)
}
