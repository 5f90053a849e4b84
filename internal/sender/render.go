package sender

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid message templates with contact bindings. Parsed
// templates are cached by source, so repeated sends of the same rule or
// campaign parse once.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the orchestrator's custom filters.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return r
}

// Render renders one template source with the given bindings. Missing
// variables render empty, matching production send behavior; template syntax
// errors are returned.
func (r *Renderer) Render(source string, vars map[string]interface{}) (string, error) {
	if source == "" {
		return "", nil
	}
	tpl, err := r.parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderMessage renders subject and body together. Either failing fails the
// message; a half-rendered message never goes out.
func (r *Renderer) RenderMessage(subject, body string, vars map[string]interface{}) (string, string, error) {
	renderedSubject, err := r.Render(subject, vars)
	if err != nil {
		return "", "", fmt.Errorf("subject: %w", err)
	}
	renderedBody, err := r.Render(body, vars)
	if err != nil {
		return "", "", fmt.Errorf("body: %w", err)
	}
	return renderedSubject, renderedBody, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	r.cache.Store(source, tpl)
	return tpl, nil
}
