package channel

import (
	"fmt"
	"strings"
)

// LetterRenderer produces the outbound request text for a jurisdiction. The
// real templating service lives outside the core; TemplateRenderer is the
// built-in fallback.
type LetterRenderer interface {
	Render(jurisdiction, agencyName, ask string) string
}

// TemplateRenderer renders a plain statutory request letter.
type TemplateRenderer struct {
	FromAddress string
}

func (r TemplateRenderer) Render(jurisdiction, agencyName, ask string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To the records officer of %s:\n\n", agencyName)
	fmt.Fprintf(&b, "Pursuant to the public records law of %s, I request the following records:\n\n", jurisdiction)
	b.WriteString(strings.TrimSpace(ask))
	b.WriteString("\n\nI ask that responsive documents be provided in electronic form where possible.")
	if r.FromAddress != "" {
		fmt.Fprintf(&b, "\n\nPlease direct all correspondence to %s.", r.FromAddress)
	}
	return b.String()
}
