package sender

import (
	"strings"
	"testing"
)

func TestRender_Bindings(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("Hello {{ first_name }}!", map[string]interface{}{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "Hello Ada!" {
		t.Errorf("rendered %q", out)
	}
}

func TestRender_DefaultFilter(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(`Hi {{ first_name | default: "there" }}`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "Hi there" {
		t.Errorf("rendered %q, want fallback", out)
	}

	out, err = r.Render(`Hi {{ first_name | default: "there" }}`, map[string]interface{}{"first_name": "Grace"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "Hi Grace" {
		t.Errorf("rendered %q, want bound value", out)
	}
}

func TestRender_MissingVariableRendersEmpty(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("X{{ nope }}Y", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "XY" {
		t.Errorf("rendered %q, want missing variable to be empty", out)
	}
}

func TestRender_EmptySource(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("", map[string]interface{}{"a": 1})
	if err != nil || out != "" {
		t.Errorf("empty source: got (%q, %v)", out, err)
	}
}

func TestRender_SyntaxError(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render("{% if %}", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(err.Error(), "parse template") {
		t.Errorf("error %q does not mention parsing", err)
	}
}

func TestRenderMessage_BadSubjectFailsWholeMessage(t *testing.T) {
	r := NewRenderer()

	_, _, err := r.RenderMessage("{% broken", "fine body", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected subject failure to fail the message")
	}
	if !strings.Contains(err.Error(), "subject") {
		t.Errorf("error %q does not name the failing part", err)
	}
}
