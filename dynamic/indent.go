package dynamic

import "bytes"

// indentBuffer accumulates JSON output while tracking nesting depth, so that
// multi-line output gets two-space indentation. A negative depth disables
// indentation and produces compact single-line output.
type indentBuffer struct {
	bytes.Buffer
	indent int
}

func (b *indentBuffer) compact() bool { return b.indent < 0 }

func (b *indentBuffer) start() error {
	if b.compact() {
		return nil
	}
	b.indent++
	return b.newLine()
}

func (b *indentBuffer) sep() error {
	if b.compact() {
		return b.WriteByte(':')
	}
	_, err := b.WriteString(": ")
	return err
}

func (b *indentBuffer) end() error {
	if b.compact() {
		return nil
	}
	b.indent--
	return b.newLine()
}

// maybeNext separates members of a composite, writing nothing before the
// first one.
func (b *indentBuffer) maybeNext(first *bool) error {
	if *first {
		*first = false
		return nil
	}
	if err := b.WriteByte(','); err != nil {
		return err
	}
	if b.compact() {
		return nil
	}
	return b.newLine()
}

func (b *indentBuffer) newLine() error {
	if err := b.WriteByte('\n'); err != nil {
		return err
	}
	for i := 0; i < b.indent; i++ {
		if _, err := b.WriteString("  "); err != nil {
			return err
		}
	}
	return nil
}
