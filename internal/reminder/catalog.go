package reminder

import "strings"

// Text is the notification copy for a reminder type.
type Text struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Catalog maps reminder types to default copy. Unknown types use "custom".
type Catalog map[string]Text

// DefaultCatalog is the built-in English copy.
func DefaultCatalog() Catalog {
	return Catalog{
		"feeding":      {Title: "Feeding time", Message: "It's time for the next feeding."},
		"sleep":        {Title: "Sleep time", Message: "Time to start the sleep routine."},
		"immunization": {Title: "Immunization due", Message: "An immunization appointment is coming up."},
		"medication":   {Title: "Medication", Message: "Time to take your medication."},
		"custom":       {Title: "Reminder", Message: "You asked to be reminded about this."},
	}
}

// NormalizeType lowercases t and folds blanks to "custom".
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "custom"
	}
	return t
}

// For returns the copy for typ, falling back to "custom".
func (c Catalog) For(typ string) Text {
	if txt, ok := c[NormalizeType(typ)]; ok {
		return txt
	}
	if txt, ok := c["custom"]; ok {
		return txt
	}
	return Text{Title: "Reminder"}
}

// Merge overlays other onto c and returns the result.
func (c Catalog) Merge(other map[string]Text) Catalog {
	out := Catalog{}
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		k = NormalizeType(k)
		base := out[k]
		if v.Title != "" {
			base.Title = v.Title
		}
		if v.Message != "" {
			base.Message = v.Message
		}
		out[k] = base
	}
	return out
}
