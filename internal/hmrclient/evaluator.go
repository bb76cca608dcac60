package hmrclient

import (
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
)

// Evaluator turns the code of an update into redefined modules and returns
// the boundaries whose accept callbacks should run.
type Evaluator interface {
	Evaluate(rt *Runtime, code string) ([]hmr.Boundary, error)
}

// Loader compiles one module source into a factory.
type Loader interface {
	Load(id, source string) (ModuleFactory, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(id, source string) (ModuleFactory, error)

func (f LoaderFunc) Load(id, source string) (ModuleFactory, error) { return f(id, source) }

// SourceLoader defines each module with its source text as exports. It is
// what a process that cannot execute module code uses to track updates.
var SourceLoader = LoaderFunc(func(id, source string) (ModuleFactory, error) {
	return func(hot *HotContext) (any, error) {
		if err := hot.Accept(); err != nil {
			return nil, err
		}
		return source, nil
	}, nil
})

// PatchEvaluator evaluates hmr.PatchDocument payloads. Modules are
// redefined in document order; a document without boundaries uses every
// patched module as its own boundary.
type PatchEvaluator struct {
	Loader Loader
}

func (e PatchEvaluator) Evaluate(rt *Runtime, code string) ([]hmr.Boundary, error) {
	if e.Loader == nil {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "patch evaluator has no loader")
	}

	doc, err := hmr.DecodePatch(code)
	if err != nil {
		return nil, err
	}

	for _, m := range doc.Modules {
		factory, err := e.Loader.Load(m.ID, m.Source)
		if err != nil {
			return nil, errors.WrapBuild(err, errors.ErrCodeBuildFailed, "cannot load "+m.ID, "hmr-client")
		}
		if _, err := rt.DefineModule(m.ID, factory); err != nil {
			return nil, err
		}
	}

	if len(doc.Boundaries) > 0 {
		return doc.Boundaries, nil
	}
	boundaries := make([]hmr.Boundary, len(doc.Modules))
	for i, m := range doc.Modules {
		boundaries[i] = hmr.Boundary{ModuleID: m.ID}
	}
	return boundaries, nil
}

// Reloader restarts the application when no safe patch exists.
type Reloader interface {
	Reload()
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func()

func (f ReloaderFunc) Reload() { f() }
