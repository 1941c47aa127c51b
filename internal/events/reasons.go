package events

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/leadscore/internal/pkg/logger"
)

// Reason template keys.
const (
	ReasonDecay           = "decay"
	ReasonDecayThreshold  = "decay_threshold"
	ReasonRecompute       = "recompute"
	ReasonRecomputeFailed = "recompute_failed"
)

// DefaultReasonTemplates are the Liquid templates used for system-generated
// score change reasons.
var DefaultReasonTemplates = map[string]string{
	ReasonDecay:           "inactivity decay: {{ days_inactive | days }} without activity (-{{ amount }})",
	ReasonDecayThreshold:  "inactivity decay past {{ threshold | days }}: {{ days_inactive | days }} without activity (-{{ amount }})",
	ReasonRecompute:       "recalculated from lead attributes",
	ReasonRecomputeFailed: "recalculation failed, defaulted to 0: {{ error }}",
}

// Reasons renders score change reasons from Liquid templates. Parsed
// templates are cached per key.
type Reasons struct {
	engine    *liquid.Engine
	templates map[string]string
	cache     sync.Map // map[string]*liquid.Template
}

// NewReasons creates a renderer with the default templates, replaced by any
// entries in overrides.
func NewReasons(overrides map[string]string) *Reasons {
	engine := liquid.NewEngine()
	engine.RegisterFilter("days", func(value interface{}) string {
		if fmt.Sprint(value) == "1" {
			return "1 day"
		}
		return fmt.Sprintf("%v days", value)
	})

	templates := make(map[string]string, len(DefaultReasonTemplates)+len(overrides))
	for k, v := range DefaultReasonTemplates {
		templates[k] = v
	}
	for k, v := range overrides {
		templates[k] = v
	}
	return &Reasons{engine: engine, templates: templates}
}

// Validate parses every template and returns the first syntax error.
func (r *Reasons) Validate() error {
	for key, tpl := range r.templates {
		if _, err := r.engine.ParseString(tpl); err != nil {
			return fmt.Errorf("reason template %q: %w", key, err)
		}
	}
	return nil
}

// Format renders the template registered under key. Unknown keys render as
// the key itself; render errors fall back to the raw template text.
func (r *Reasons) Format(key string, vars map[string]any) string {
	src, ok := r.templates[key]
	if !ok {
		return key
	}

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			logger.Warn("reason template parse failed", "key", key, "error", err)
			return src
		}
		r.cache.Store(key, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		logger.Warn("reason template render failed", "key", key, "error", err)
		return src
	}
	return out
}
