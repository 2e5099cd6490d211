package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// Prompt formatting constants
const (
	// ChoiceOptionFormat is the format string for one numbered choice
	ChoiceOptionFormat = "\n%d. %s"
	// SuggestionsFormat introduces the list of previously used values
	SuggestionsFormat = "\nРанее использованные: %s"
)

// Prompt is the question the engine wants the user to answer next.
type Prompt struct {
	Form        models.FormKind
	Field       models.FieldKey
	Text        string
	Choices     []Choice
	Suggestions []string
}

// Render returns the prompt text followed by its numbered choices.
func (p Prompt) Render() string {
	var sb strings.Builder
	sb.WriteString(p.Text)
	for i, c := range p.Choices {
		sb.WriteString(fmt.Sprintf(ChoiceOptionFormat, i+1, c.Label))
	}
	if len(p.Suggestions) > 0 {
		sb.WriteString(fmt.Sprintf(SuggestionsFormat, strings.Join(p.Suggestions, ", ")))
	}
	return sb.String()
}
