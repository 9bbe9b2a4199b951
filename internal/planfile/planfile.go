// Package planfile parses markdown plan documents into importable tasks.
//
// A plan file is ordinary markdown: headings divide the document into
// sections, and checklist or bullet items under a heading become task
// objectives. Items already checked off ("[x]") are skipped. Section
// order determines a priority band so earlier sections run first, and a
// heading may override its band with an explicit "(priority: N)" suffix.
package planfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Plan is the parsed form of a markdown plan document.
type Plan struct {
	// Title is the first H1 heading, if any.
	Title string
	// Items are the unchecked objectives in document order.
	Items []Item
	// SkippedDone counts checklist items already marked complete.
	SkippedDone int
}

// Item is a single importable objective.
type Item struct {
	// Objective is the item text with list markers stripped.
	Objective string
	// Section is the nearest enclosing heading, or "" before any heading.
	Section string
	// Priority is the scheduling priority derived from the section band.
	// Lower values are picked first.
	Priority float64
	// Notes holds indented continuation lines attached to the item.
	Notes string
}

const (
	// bandWidth separates consecutive sections so every item in an
	// earlier section outranks every item in a later one.
	bandWidth = 10.0
	// itemStep orders items within a section.
	itemStep = 0.1
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	priorityRe = regexp.MustCompile(`\(priority:\s*(\d+)\)\s*$`)
	bulletRe   = regexp.MustCompile(`^[-*+]\s+(.*)$`)
	checkboxRe = regexp.MustCompile(`^\[([ xX])\]\s+(.*)$`)
	numberedRe = regexp.MustCompile(`^\d+[.)]\s+(.*)$`)
)

// ParseFile reads and parses the plan document at path.
func ParseFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()

	plan, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return plan, nil
}

// Parse parses a plan document from raw markdown text.
func Parse(text string) (*Plan, error) {
	return parse(strings.NewReader(text))
}

func parse(r io.Reader) (*Plan, error) {
	plan := &Plan{}

	section := ""
	band := 0.0
	seenSection := false
	itemsInSection := 0
	inFence := false
	var current *Item

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current = nil
			continue
		}
		if inFence {
			continue
		}

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			current = nil
			title := strings.TrimSpace(m[2])
			if len(m[1]) == 1 && plan.Title == "" {
				plan.Title = stripPriority(title)
				continue
			}
			if seenSection {
				band += bandWidth
			}
			seenSection = true
			itemsInSection = 0
			if pm := priorityRe.FindStringSubmatch(title); pm != nil {
				n, _ := strconv.Atoi(pm[1])
				band = float64(n)
			}
			section = stripPriority(title)
			continue
		}

		// Indented continuation lines attach to the open item as notes.
		if current != nil && trimmed != "" && isIndented(raw) && !isListLine(trimmed) {
			if current.Notes != "" {
				current.Notes += "\n"
			}
			current.Notes += trimmed
			continue
		}

		text, done, ok := listItem(trimmed, isIndented(raw))
		if !ok {
			if trimmed == "" {
				current = nil
			}
			continue
		}
		if done {
			plan.SkippedDone++
			current = nil
			continue
		}
		if text == "" {
			current = nil
			continue
		}

		plan.Items = append(plan.Items, Item{
			Objective: text,
			Section:   section,
			Priority:  band + float64(itemsInSection)*itemStep,
		})
		itemsInSection++
		current = &plan.Items[len(plan.Items)-1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(plan.Items) == 0 && plan.SkippedDone == 0 {
		return nil, fmt.Errorf("no list items found")
	}
	return plan, nil
}

// listItem recognizes bullet, checklist, and numbered list lines.
// Indented list lines are nested detail, not standalone objectives.
func listItem(trimmed string, indented bool) (text string, done, ok bool) {
	if indented {
		return "", false, false
	}
	var rest string
	if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
		rest = m[1]
	} else if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
		rest = m[1]
	} else {
		return "", false, false
	}
	if m := checkboxRe.FindStringSubmatch(rest); m != nil {
		return strings.TrimSpace(m[2]), m[1] != " ", true
	}
	return strings.TrimSpace(rest), false, true
}

func isListLine(trimmed string) bool {
	return bulletRe.MatchString(trimmed) || numberedRe.MatchString(trimmed)
}

func isIndented(raw string) bool {
	return strings.HasPrefix(raw, "  ") || strings.HasPrefix(raw, "\t")
}

func stripPriority(title string) string {
	return strings.TrimSpace(priorityRe.ReplaceAllString(title, ""))
}
