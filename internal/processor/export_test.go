package processor

// SetStyleForTest substitutes the styling stage so that styling failures and
// their cleanup can be exercised from the external test package.
func (p *Processor) SetStyleForTest(style func(scalarPath, styledPath string) error) {
	p.style = style
}
