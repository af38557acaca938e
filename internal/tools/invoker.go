package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firechair/knowledge-console/internal/log"
)

// callTimeout bounds each connector call independently of the turn
// deadline so one slow upstream cannot starve the rest of the flow.
const callTimeout = 15 * time.Second

// Invoker dispatches calls against a registry, applying per-user
// enablement overrides and parameter validation. Every failure mode is
// folded into the Result so callers can always continue the turn.
type Invoker struct {
	registry *Registry
	logger   log.Logger
}

// NewInvoker creates an invoker over the registry.
func NewInvoker(registry *Registry, logger log.Logger) *Invoker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Invoker{registry: registry, logger: logger}
}

// Invoke runs one call. overrides maps connector name to enablement and
// takes precedence over the connector's default; nil means no overrides.
func (v *Invoker) Invoke(ctx context.Context, call Call, overrides map[string]bool) Result {
	res := Result{Name: call.Name}

	c, resolved, ok := v.registry.Get(call.Name)
	if !ok {
		res.Err = fmt.Sprintf("%v: %q", ErrUnknownTool, call.Name)
		return res
	}

	enabled := c.Enabled()
	if override, has := overrides[call.Name]; has {
		enabled = override
	}
	if !enabled {
		res.Err = fmt.Sprintf("%v: %q", ErrDisabled, call.Name)
		return res
	}

	params := call.Params
	if params == nil {
		params = Params{}
	}
	if err := resolved.Validate(map[string]any(params)); err != nil {
		res.Err = fmt.Sprintf("%v: %v", ErrInvalidParams, err)
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	data, err := c.Call(callCtx, params)
	if err != nil {
		v.logger.Warn("connector call failed",
			"connector", call.Name,
			"duration", time.Since(start),
			"error", err)
		res.Err = err.Error()
		return res
	}

	v.logger.Debug("connector call completed",
		"connector", call.Name,
		"duration", time.Since(start))
	res.Data = data
	return res
}

// InvokeAll runs the calls concurrently and returns results in call
// order. The turn context bounds all of them; individual failures land
// in their own result.
func (v *Invoker) InvokeAll(ctx context.Context, calls []Call, overrides map[string]bool) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = v.Invoke(ctx, call, overrides)
		}()
	}
	wg.Wait()
	return results
}
