// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"fmt"

	"github.com/pdiddy/foldeval/internal/toolexec"
	"github.com/pdiddy/foldeval/pkg/types"
)

// NewEngine builds the engine selected by cfg. exec may be nil for the OS
// executor.
func NewEngine(cfg types.AlignConfig, exec toolexec.Executor, workDir string) (Engine, error) {
	switch cfg.Engine {
	case types.EngineKabsch, "":
		return KabschEngine{Cycles: cfg.Cycles, Cutoff: cfg.Cutoff}, nil
	case types.EnginePymol:
		if exec == nil {
			exec = toolexec.OSExecutor{}
		}
		return &PymolEngine{
			Tool:    &toolexec.LocalTool{Binary: cfg.PymolBinary, Exec: exec},
			WorkDir: workDir,
			Cycles:  cfg.Cycles,
			Cutoff:  cfg.Cutoff,
		}, nil
	default:
		return nil, fmt.Errorf("unknown alignment engine %q", cfg.Engine)
	}
}
