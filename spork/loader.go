package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"runtime/debug"
	"slices"
	"sort"
	"time"
)

// LoadResult is the outcome of one attempt to load an extension
type LoadResult struct {
	Extension string        `json:"extension"`
	Success   bool          `json:"success"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// LoadAll loads each descriptor's extension, in order, one at a time.
// A failure is logged and recorded, and loading carries on with the next
// one. Once every descriptor has been tried, DiagnosticsExtension is
// loaded. If that fails, the results are returned along with its
// *ExtensionLoadError.
func (s *Spork) LoadAll(ctx context.Context, descriptors []ExtensionDescriptor) ([]LoadResult, error) {
	results := make([]LoadResult, 0, len(descriptors)+1)

	for _, d := range descriptors {
		if d.Name == DiagnosticsExtension {
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, s.loadExtension(ctx, d.Name))
	}

	diag := s.loadExtension(ctx, DiagnosticsExtension)
	results = append(results, diag)

	s.extMu.Lock()
	s.loadResults = slices.Clone(results)
	s.extMu.Unlock()

	if !diag.Success {
		return results, diag.Err
	}
	return results, nil
}

// LoadExtension loads a single extension by name
func (s *Spork) LoadExtension(ctx context.Context, name string) error {
	result := s.loadExtension(ctx, normalizeExtensionName(name))
	if !result.Success {
		return result.Err
	}
	return nil
}

// loadExtension registers the named extension. Panics and errors from
// its Register are caught and returned as an *ExtensionLoadError, and
// anything it registered before failing is removed.
func (s *Spork) loadExtension(ctx context.Context, name string) LoadResult {
	started := time.Now()
	result := LoadResult{Extension: name}
	logger := s.logger.With("extension", name)

	err := s.registerExtension(name)
	result.Duration = time.Since(started)

	if err != nil {
		var loadErr *ExtensionLoadError
		if !errors.As(err, &loadErr) {
			err = &ExtensionLoadError{Extension: name, Err: err}
		}
		result.Err = err
		attrs := []any{tint.Err(err), "duration", result.Duration}
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			attrs = append(attrs, "stack_trace", panicErr.Stack)
		}
		logger.ErrorContext(ctx, "extension failed to load", attrs...)
	} else {
		result.Success = true
		logger.InfoContext(ctx, "extension loaded", "duration", result.Duration)
	}

	s.recordExtensionLoad(ctx, result)
	return result
}

func (s *Spork) registerExtension(name string) (err error) {
	s.extMu.Lock()
	defer s.extMu.Unlock()

	if _, loaded := s.extensions[name]; loaded {
		return fmt.Errorf("%w: %s", ErrExtensionAlreadyLoaded, name)
	}

	ext, err := s.registry.New(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.loading = name
	s.mu.Unlock()

	defer func() {
		if rc := recover(); rc != nil {
			err = &ExtensionLoadError{
				Extension: name,
				Err:       &PanicError{Value: rc, Stack: string(debug.Stack())},
			}
		}

		s.mu.Lock()
		s.loading = ""
		s.mu.Unlock()

		if err != nil {
			s.removeExtensionHandlers(name)
			return
		}
		s.extensions[name] = ext
	}()

	return ext.Register(s)
}

// UnloadExtension removes every command and listener the extension
// added, and calls its Unload if it has one
func (s *Spork) UnloadExtension(ctx context.Context, name string) error {
	name = normalizeExtensionName(name)

	s.extMu.Lock()
	defer s.extMu.Unlock()

	ext, loaded := s.extensions[name]
	if !loaded {
		return fmt.Errorf("%w: %s", ErrExtensionNotLoaded, name)
	}

	var unloadErr error
	if u, ok := ext.(Unloader); ok {
		unloadErr = s.callUnload(u, name)
	}
	commands, listeners := s.removeExtensionHandlers(name)
	delete(s.extensions, name)

	s.logger.InfoContext(
		ctx,
		"extension unloaded",
		"extension", name,
		"commands", commands,
		"listeners", listeners,
		tint.Err(unloadErr),
	)
	return unloadErr
}

func (s *Spork) callUnload(u Unloader, name string) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			err = &PanicError{Value: rc, Stack: string(debug.Stack())}
		}
	}()
	if err = u.Unload(s); err != nil {
		return fmt.Errorf("extension %q: unload: %w", name, err)
	}
	return nil
}

// ReloadExtension unloads, then loads, the named extension. If loading
// fails, the extension stays unloaded.
func (s *Spork) ReloadExtension(ctx context.Context, name string) error {
	if err := s.UnloadExtension(ctx, name); err != nil && !errors.Is(err, ErrExtensionNotLoaded) {
		return err
	}
	return s.LoadExtension(ctx, name)
}

// Extensions returns the names of the loaded extensions, sorted
func (s *Spork) Extensions() []string {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	names := make([]string, 0, len(s.extensions))
	for name := range s.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadResults returns the results of the startup LoadAll
func (s *Spork) LoadResults() []LoadResult {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	return slices.Clone(s.loadResults)
}
