package search

import (
	"encoding/json"
	"strings"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// ResponseText flattens a response into one indexable document: the free text
// followed by each action's text and owner. Malformed action JSON is ignored.
func ResponseText(r domain.Response) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.FreeText))

	var actions []struct {
		Text  string `json:"text"`
		Owner string `json:"owner"`
	}
	if len(r.Actions) > 0 && json.Unmarshal(r.Actions, &actions) == nil {
		for _, a := range actions {
			for _, s := range []string{a.Text, a.Owner} {
				if s = strings.TrimSpace(s); s != "" {
					b.WriteByte('\n')
					b.WriteString(s)
				}
			}
		}
	}
	if ref := strings.TrimSpace(r.SampleRef); ref != "" {
		b.WriteByte('\n')
		b.WriteString(ref)
	}
	return b.String()
}

// Rebuild indexes every response in rs into idx.
func Rebuild(idx Index, rs []domain.Response) {
	for _, r := range rs {
		idx.Add(r.ID, ResponseText(r))
	}
}
