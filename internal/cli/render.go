package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"stagetasks/internal/models"
)

// printer writes tasks for humans, in colour when w is a terminal.
type printer struct {
	w io.Writer

	title  *color.Color
	high   *color.Color
	medium *color.Color
	low    *color.Color
	done   *color.Color
	dim    *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:      w,
		title:  color.New(color.Bold),
		high:   color.New(color.FgRed),
		medium: color.New(color.FgYellow),
		low:    color.New(color.FgGreen),
		done:   color.New(color.FgGreen),
		dim:    color.New(color.Faint),
	}

	enable := isTerminal(w) && !color.NoColor
	for _, c := range []*color.Color{p.title, p.high, p.medium, p.low, p.done, p.dim} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) priority(pr models.Priority) string {
	switch pr {
	case models.PriorityHigh:
		return p.high.Sprint(pr)
	case models.PriorityMedium:
		return p.medium.Sprint(pr)
	case models.PriorityLow:
		return p.low.Sprint(pr)
	default:
		return p.dim.Sprint(pr)
	}
}

// task prints one task; withIDs adds stage ids, which toggle accepts.
func (p *printer) task(t models.Task, withIDs bool) {
	done, total := t.Progress()
	fmt.Fprintf(p.w, "#%d %s [%s] %d/%d\n", t.ID, p.title.Sprint(t.Title), p.priority(t.Priority), done, total)

	for _, s := range t.Stages {
		mark := "[ ]"
		if s.Complete {
			mark = p.done.Sprint("[x]")
		}
		line := fmt.Sprintf("    %s %s", mark, s.Label)
		if withIDs {
			line += "  " + p.dim.Sprint(s.ID)
		}
		fmt.Fprintln(p.w, line)
	}
}

func (p *printer) tasks(list []models.Task) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, p.dim.Sprint("No tasks."))
		return
	}
	for _, t := range list {
		p.task(t, false)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
