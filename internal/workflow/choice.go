package workflow

import (
	"maps"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/ordinal"
)

// ChoiceName is the registry name of the choice workflow.
const ChoiceName = "choice"

var cancelWords = []string{"annulla", "cancel", "lascia perdere", "never mind", "stop"}

// Choice presents ranked options and runs a follow-up intent with the one the
// user picks.
type Choice struct {
	from catalog.IntentID
	to   catalog.IntentID
}

// NewChoice returns a choice workflow started by from that runs to with the
// anchor slots plus "choice" set to the selected option id.
func NewChoice(from, to catalog.IntentID) *Choice {
	return &Choice{from: from, to: to}
}

func (c *Choice) Name() string { return ChoiceName }

func (c *Choice) Start(intent catalog.IntentID, slots map[string]string, options []Option) *Context {
	if intent != c.from || len(options) == 0 {
		return nil
	}
	return &Context{
		Name:    ChoiceName,
		Intent:  intent,
		Step:    1,
		Options: append([]Option(nil), options...),
		Anchor:  maps.Clone(slots),
	}
}

func (c *Choice) Accepts(wc *Context, message string, _ map[string]string) bool {
	if wc == nil {
		return false
	}
	if isCancel(message) {
		return true
	}
	_, ok := ordinal.Parse(message, len(wc.Options))
	return ok
}

func (c *Choice) Advance(wc *Context, message string, _ map[string]string) Step {
	if isCancel(message) {
		return Step{Reply: "Okay, no strategy applied."}
	}
	n, ok := ordinal.Parse(message, len(wc.Options))
	if !ok {
		return Step{Next: wc.Clone(), Reply: "Please pick one of the listed options by number."}
	}
	slots := maps.Clone(wc.Anchor)
	if slots == nil {
		slots = map[string]string{}
	}
	slots["choice"] = wc.Options[n-1].ID
	return Step{Intent: c.to, Slots: slots}
}

func isCancel(message string) bool {
	n := catalog.Normalize(message)
	for _, w := range cancelWords {
		if n == w {
			return true
		}
	}
	return false
}
