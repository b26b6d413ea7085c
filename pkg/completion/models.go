package completion

// Picker resolves the chat model for a turn. Unknown names fall back to
// the default rather than failing the request.
type Picker struct {
	def     string
	allowed map[string]bool
}

// NewPicker builds a Picker from the configured default and allowlist.
// The default is always allowed.
func NewPicker(def string, allowed []string) *Picker {
	set := make(map[string]bool, len(allowed)+1)
	set[def] = true
	for _, m := range allowed {
		set[m] = true
	}
	return &Picker{def: def, allowed: set}
}

// Resolve returns the first allowed model among the candidates, or the
// default when none qualifies. Callers pass the request model first and
// the agent's configured model second.
func (p *Picker) Resolve(candidates ...string) string {
	for _, m := range candidates {
		if m != "" && p.allowed[m] {
			return m
		}
	}
	return p.def
}

// Default returns the fallback model.
func (p *Picker) Default() string {
	return p.def
}
