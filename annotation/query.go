package annotation

// FindAt returns the spans touching offset, counting both ends as inside.
func (o Overlay) FindAt(offset int) []Span {
	return o.FindInRange(offset, offset)
}

// FindInRange returns the spans that overlap or touch [from, to].
func (o Overlay) FindInRange(from, to int) []Span {
	var out []Span
	for _, sp := range o {
		if sp.From > to {
			break
		}
		if sp.To >= from {
			out = append(out, sp)
		}
	}
	return out
}

// FindByID returns the span for id.
func (o Overlay) FindByID(id string) (Span, bool) {
	for _, sp := range o {
		if sp.ID == id {
			return sp, true
		}
	}
	return Span{}, false
}
