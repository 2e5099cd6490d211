package flow

import (
	"strings"
	"testing"
)

func TestPromptRender(t *testing.T) {
	p := Prompt{
		Text: "Тип привычки:",
		Choices: []Choice{
			{ID: "good", Label: "Полезная"},
			{ID: "bad", Label: "Вредная"},
		},
	}
	out := p.Render()
	if !strings.HasPrefix(out, p.Text) {
		t.Errorf("output should start with question; got %q", out)
	}
	if !strings.Contains(out, "1. Полезная") {
		t.Errorf("option 1 not formatted; got %q", out)
	}
	if !strings.Contains(out, "2. Вредная") {
		t.Errorf("option 2 not formatted; got %q", out)
	}
}

func TestPromptRenderSuggestions(t *testing.T) {
	p := Prompt{Text: "Категория:", Suggestions: []string{"такси", "еда"}}
	out := p.Render()
	if !strings.Contains(out, "такси, еда") {
		t.Errorf("suggestions missing; got %q", out)
	}
}

func TestPromptRenderPlain(t *testing.T) {
	p := Prompt{Text: "Сколько грамм?"}
	if out := p.Render(); out != p.Text {
		t.Errorf("expected plain text, got %q", out)
	}
}
