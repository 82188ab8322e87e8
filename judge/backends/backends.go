// Package backends wires every judge adapter into one ordered registry.
package backends

import (
	"github.com/david-why/submit/judge"
	"github.com/david-why/submit/judge/atcoder"
	"github.com/david-why/submit/judge/codeforces"
	"github.com/david-why/submit/judge/cses"
	"github.com/david-why/submit/judge/luogu"
	"github.com/david-why/submit/judge/usaco"
	"github.com/david-why/submit/judge/vjudge"
)

// Defs returns the built-in backend definitions. The order decides which
// backend wins when a URL or piece of code matches several.
func Defs() []judge.Def {
	return []judge.Def{
		atcoder.Def(),
		codeforces.Def(),
		cses.Def(),
		luogu.Def(),
		usaco.ContestDef(),
		usaco.TrainingDef(),
		vjudge.Def(),
	}
}

// Default returns a registry of the built-in backends.
func Default() *judge.Registry {
	reg, err := judge.NewRegistry(Defs()...)
	if err != nil {
		panic(err)
	}
	return reg
}

// NewRouter builds a Router over the default registry.
func NewRouter(settings map[string]map[string]string, env judge.Env) *judge.Router {
	return judge.NewRouter(Default(), judge.WithSettings(settings), judge.WithEnv(env))
}
