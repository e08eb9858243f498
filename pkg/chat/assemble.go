// Package chat reassembles multi-part TXT answers into one response string.
//
// The backend may split a long answer across character-strings formatted as
// "<part>/<total>:<content>". Plain segments without the prefix are
// concatenated as-is.
package chat

import (
	"sort"
	"strconv"
	"strings"
)

type part struct {
	index   int
	content string
}

// Assemble joins TXT strings into one logical response. Prefixed parts are
// ordered by their part number; unprefixed segments keep their wire order and
// sort after any numbered parts they tie with.
func Assemble(records []string) string {
	parts := make([]part, 0, len(records))
	for i, record := range records {
		if index, content, ok := splitPart(record); ok {
			parts = append(parts, part{index: index, content: content})
		} else {
			parts = append(parts, part{index: i + 1, content: record})
		}
	}
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].index < parts[j].index
	})

	var out strings.Builder
	for _, p := range parts {
		out.WriteString(p.content)
	}
	return out.String()
}

// splitPart parses "<part>/<total>:<content>". Anything that does not match
// exactly is treated as a plain segment.
func splitPart(record string) (index int, content string, ok bool) {
	colon := strings.Index(record, ":")
	if colon < 0 {
		return 0, "", false
	}
	slash := strings.Index(record[:colon], "/")
	if slash <= 0 {
		return 0, "", false
	}
	index, err := strconv.Atoi(record[:slash])
	if err != nil || index < 1 {
		return 0, "", false
	}
	total, err := strconv.Atoi(record[slash+1 : colon])
	if err != nil || total < 1 || index > total {
		return 0, "", false
	}
	return index, record[colon+1:], true
}
