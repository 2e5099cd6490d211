package flow

import (
	"fmt"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// customField builds the descriptor for one custom day-log field. The question wording
// depends on the declared type; unknown types are asked as free text.
func customField(def models.CustomFieldDef) *Field {
	f := &Field{Key: models.FieldKey(def.Name)}
	switch def.Type {
	case models.CustomFieldBool:
		f.Kind = KindBool
		f.Question = fmt.Sprintf("%s? (да/нет)", def.Name)
	case models.CustomFieldInt:
		f.Kind = KindInteger
		f.Question = fmt.Sprintf("%s? (введи число)", def.Name)
	default:
		f.Kind = KindText
		f.Question = fmt.Sprintf("%s?", def.Name)
	}
	return f
}

// currentField returns the descriptor the state is waiting on.
func currentField(spec *Spec, st *models.ConversationState) (*Field, error) {
	if st.InCustomLoop {
		if st.CustomIndex < 0 || st.CustomIndex >= len(st.CustomDefs) {
			return nil, fmt.Errorf("%w: custom index %d of %d", ErrUnknownBranch, st.CustomIndex, len(st.CustomDefs))
		}
		return customField(st.CustomDefs[st.CustomIndex]), nil
	}
	f, ok := spec.Field(st.CurrentKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownBranch, spec.Kind, st.CurrentKey)
	}
	return f, nil
}

// enterCustomLoop moves the state onto the first field of the snapshot.
// It reports false when the snapshot is empty and the form is complete.
func enterCustomLoop(st *models.ConversationState, defs []models.CustomFieldDef) bool {
	if len(defs) == 0 {
		return false
	}
	snapshot := make([]models.CustomFieldDef, len(defs))
	copy(snapshot, defs)
	st.InCustomLoop = true
	st.CustomIndex = 0
	st.CustomDefs = snapshot
	st.CurrentKey = models.FieldKey(snapshot[0].Name)
	return true
}

// stepCustomLoop advances past the current custom field.
// It reports false when the last field of the snapshot was answered.
func stepCustomLoop(st *models.ConversationState) bool {
	st.CustomIndex++
	if st.CustomIndex >= len(st.CustomDefs) {
		return false
	}
	st.CurrentKey = models.FieldKey(st.CustomDefs[st.CustomIndex].Name)
	return true
}
