package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/wikifarm/pkg/config"
	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/metrics"
	"github.com/pubwiki/wikifarm/pkg/types"
)

// StepKind tags a completed pipeline action for rollback dispatch.
type StepKind string

const (
	StepFsDir            StepKind = "fs_dir"
	StepIniWritten       StepKind = "ini_written"
	StepDbProvisioned    StepKind = "db_provisioned"
	StepInsertWikiRecord StepKind = "insert_wiki_record"
	StepWritePermissions StepKind = "write_permissions"
	StepDockerInstalled  StepKind = "docker_installed"
	StepDockerIndexCfg   StepKind = "docker_index_cfg"
	StepBootstrapFlipped StepKind = "bootstrap_flipped"
	StepIndexedFirst     StepKind = "indexed_first"
	StepIndexedSecond    StepKind = "indexed_second"
	StepRebuildData      StepKind = "rebuild_data"
)

// Step is a completed pipeline action pushed onto the context's stack.
type Step struct {
	Kind   StepKind
	WikiID uint64
}

// Recorder is the slice of the store the orchestrator needs.
type Recorder interface {
	InsertWiki(ctx context.Context, name, slug, language, visibility string, owner types.Owner) (uint64, error)
	DeleteWikiByID(ctx context.Context, wikiID uint64) error
	ReplacePermissions(ctx context.Context, wikiID uint64, entries []types.GroupPermission) error
	DeletePermissions(ctx context.Context, wikiID uint64) error
	GrantOwnerGroups(ctx context.Context, dbName string, userID uint64) error
}

// Publisher emits task events on the bus.
type Publisher interface {
	Publish(ctx context.Context, taskID string, e events.Event) error
}

// Context carries one provisioning run: its inputs, its collaborators and
// the stack of completed steps consumed by Rollback.
type Context struct {
	Cfg *config.Config

	TaskID     string
	Name       string
	Slug       string
	Language   string
	Visibility string
	Owner      types.Owner

	TargetDir  string
	DBName     string
	DBUser     string
	DBPassword string

	DB    *sqlx.DB
	Store Recorder
	Bus   Publisher
	Exec  Execer

	Steps []Step
}

// Maintenance commands run inside the fleet container, relative to the
// per-wiki directory.
var (
	installCmd          = []string{"php", "maintenance/run", "installPreConfigured"}
	indexCfgCmd         = []string{"php", "maintenance/run", "./extensions/CirrusSearch/maintenance/UpdateSearchIndexConfig.php"}
	forceIndexFirstCmd  = []string{"php", "maintenance/run", "./extensions/CirrusSearch/maintenance/ForceSearchIndex.php", "--skipLinks", "--indexOnSkip"}
	forceIndexSecondCmd = []string{"php", "maintenance/run", "./extensions/CirrusSearch/maintenance/ForceSearchIndex.php", "--skipParse"}
	rebuildDataCmd      = []string{"php", "maintenance/run", "./extensions/SemanticMediaWiki/maintenance/rebuildData.php"}
)

func (pc *Context) push(kind StepKind) {
	pc.Steps = append(pc.Steps, Step{Kind: kind})
}

func (pc *Context) pushWiki(kind StepKind, wikiID uint64) {
	pc.Steps = append(pc.Steps, Step{Kind: kind, WikiID: wikiID})
}

// beginPhase announces a phase on the bus and returns a closure recording
// its duration once the phase completes.
func (pc *Context) beginPhase(ctx context.Context, phase events.Phase, message string) (func(), error) {
	err := pc.Bus.Publish(ctx, pc.TaskID, events.Progress{
		Status:  events.StateRunning,
		Message: message,
		Phase:   phase,
	})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	return func() {
		metrics.PhaseSeconds.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	}, nil
}

// Run executes the pipeline and returns the new wiki's id. The caller owns
// the context and invokes Rollback on error.
func (pc *Context) Run(ctx context.Context) (uint64, error) {
	l := log.WithSlug(pc.Slug)
	l.Info().Str("name", pc.Name).Msg("provision run started")

	// 1) materialize the wiki directory from the template
	done, err := pc.beginPhase(ctx, events.PhaseDirCopy, "symlink template")
	if err != nil {
		return 0, err
	}
	if err := SymlinkTemplate(pc.Cfg.WikifarmTemplate, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepFsDir)
	done()

	// 2) render pubwiki.ini with the bootstrap flag on
	done, err = pc.beginPhase(ctx, events.PhaseRenderIni, "render ini")
	if err != nil {
		return 0, err
	}
	iniCfg := NewINIConfig(pc.Cfg, pc.Name, pc.Slug, pc.Language, pc.DBName, pc.DBUser, pc.DBPassword)
	if err := RenderINI(pc.Cfg.WikifarmConfigDir, iniCfg, true); err != nil {
		return 0, err
	}
	if err := WriteSlugMarker(pc.TargetDir, pc.Slug); err != nil {
		return 0, err
	}
	pc.push(StepIniWritten)
	done()

	// 3) database, user and grants
	done, err = pc.beginPhase(ctx, events.PhaseDbProvision, "db provision")
	if err != nil {
		return 0, err
	}
	if err := ProvisionDB(ctx, pc.DB, pc.DBName, pc.DBUser, pc.DBPassword, pc.Cfg.WikiSharedDBName); err != nil {
		return 0, err
	}
	pc.push(StepDbProvisioned)
	done()

	// record the wiki row before the in-container install so the install
	// and the later maintenance runs can resolve the wiki
	l.Debug().Msg("insert wiki row")
	wikiID, err := pc.Store.InsertWiki(ctx, pc.Name, pc.Slug, pc.Language, pc.Visibility, pc.Owner)
	if err != nil {
		return 0, err
	}
	pc.pushWiki(StepInsertWikiRecord, wikiID)

	// default group permissions from the template document
	doc, err := loadTemplatePermissions(pc.Cfg.WikifarmTemplate)
	if err != nil {
		return 0, err
	}
	if err := WritePermissions(ctx, pc.Store, wikiID, pc.Slug, pc.Cfg.WikifarmConfigDir, doc); err != nil {
		return 0, err
	}
	pc.pushWiki(StepWritePermissions, wikiID)
	l.Info().Uint64("wiki_id", wikiID).Msg("default permissions applied")

	// 4) in-container install
	done, err = pc.beginPhase(ctx, events.PhaseDockerInstall, "install site")
	if err != nil {
		return 0, err
	}
	if err := pc.Exec.Exec(ctx, pc.Cfg.WikifarmInstance, installCmd, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepDockerInstalled)
	done()

	// 5) search index configuration
	done, err = pc.beginPhase(ctx, events.PhaseDockerIdxCfg, "update search index config")
	if err != nil {
		return 0, err
	}
	if err := pc.Exec.Exec(ctx, pc.Cfg.WikifarmInstance, indexCfgCmd, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepDockerIndexCfg)
	done()

	// 6) flip the bootstrap flag off
	done, err = pc.beginPhase(ctx, events.PhaseFlipBootstrap, "flip bootstrap")
	if err != nil {
		return 0, err
	}
	if err := RenderINI(pc.Cfg.WikifarmConfigDir, iniCfg, false); err != nil {
		return 0, err
	}
	pc.push(StepBootstrapFlipped)
	done()

	// 7) initial indexing
	done, err = pc.beginPhase(ctx, events.PhaseIndex, "initial index")
	if err != nil {
		return 0, err
	}
	if err := pc.Exec.Exec(ctx, pc.Cfg.WikifarmInstance, forceIndexFirstCmd, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepIndexedFirst)
	if err := pc.Exec.Exec(ctx, pc.Cfg.WikifarmInstance, forceIndexSecondCmd, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepIndexedSecond)
	if err := pc.Exec.Exec(ctx, pc.Cfg.WikifarmInstance, rebuildDataCmd, pc.TargetDir); err != nil {
		return 0, err
	}
	pc.push(StepRebuildData)
	done()

	// enroll the creator into the elevated groups of the new wiki
	if err := pc.Store.GrantOwnerGroups(ctx, pc.DBName, pc.Owner.ID); err != nil {
		return 0, err
	}
	l.Info().Uint64("user_id", pc.Owner.ID).Msg("granted creator elevated groups")
	l.Info().Uint64("wiki_id", wikiID).Msg("provision run finished successfully")

	return wikiID, nil
}

// Rollback compensates completed steps in reverse order. Every action is
// best-effort: failures are logged and never overwrite the original cause.
// Step kinds without a compensating action unwind silently.
func (pc *Context) Rollback(ctx context.Context) {
	l := log.WithSlug(pc.Slug)
	l.Warn().Int("steps", len(pc.Steps)).Msg("rollback start")

	for len(pc.Steps) > 0 {
		step := pc.Steps[len(pc.Steps)-1]
		pc.Steps = pc.Steps[:len(pc.Steps)-1]

		switch step.Kind {
		case StepDbProvisioned:
			l.Debug().Msg("rollback: deprovision db")
			if err := DeprovisionDB(ctx, pc.DB, pc.DBName, pc.DBUser); err != nil {
				l.Warn().Err(err).Msg("rollback: deprovision db failed")
			}
		case StepIniWritten:
			l.Debug().Msg("rollback: remove ini directory")
			if err := RemoveINIDir(pc.Cfg.WikifarmConfigDir, pc.Slug); err != nil {
				l.Warn().Err(err).Msg("rollback: remove ini directory failed")
			}
		case StepFsDir:
			l.Debug().Msg("rollback: remove target dir")
			if err := RemoveDirIfExists(pc.TargetDir); err != nil {
				l.Warn().Err(err).Msg("rollback: remove target dir failed")
			}
		case StepInsertWikiRecord:
			l.Debug().Uint64("wiki_id", step.WikiID).Msg("rollback: delete wiki row")
			if err := pc.Store.DeleteWikiByID(ctx, step.WikiID); err != nil {
				l.Warn().Err(err).Uint64("wiki_id", step.WikiID).Msg("rollback: delete wiki row failed")
			}
		case StepWritePermissions:
			if err := pc.Store.DeletePermissions(ctx, step.WikiID); err != nil {
				l.Warn().Err(err).Uint64("wiki_id", step.WikiID).Msg("rollback: delete permissions failed")
			}
		}
	}
	l.Warn().Msg("rollback complete")
}

func loadTemplatePermissions(templateDir string) (PermissionsDoc, error) {
	var doc PermissionsDoc
	raw, err := os.ReadFile(filepath.Join(templateDir, "permissions.json"))
	if err != nil {
		return doc, fmt.Errorf("failed to read template permissions: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse template permissions: %w", err)
	}
	return doc, nil
}
