package app

import (
	"fmt"
	"io"
	"strings"
)

// Report summarizes a run.
type Report struct {
	Workspace string
	Buffer    string
	// Text is the service's text of the shared buffer.
	Text      string
	Converged bool
	Peers     []PeerReport
}

// PeerReport is the state of one peer at the end of a run.
type PeerReport struct {
	Name     string
	User     string
	Color    string
	Text     string
	Attached bool
	BufferStats
}

func (app *Application) report(converged bool) *Report {
	ws, buf := app.opts.Workspace, app.opts.Buffer
	r := &Report{
		Workspace: ws,
		Buffer:    buf,
		Converged: converged,
	}
	r.Text, _ = app.server.BufferText(ws, buf)

	for _, p := range app.peers {
		pr := PeerReport{Name: p.Name(), User: p.User()}
		if pr.User != "" {
			pr.Color = p.Color(pr.User)
		}
		if text, err := p.Text(ws, buf); err == nil {
			pr.Text = text
			pr.Attached = true
		}
		if stats, err := p.Stats(ws, buf); err == nil {
			pr.BufferStats = stats
		}
		r.Peers = append(r.Peers, pr)
	}
	return r
}

// WriteTo renders the report for a terminal.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	state := "converged"
	if !r.Converged {
		state = "diverged"
	}
	fmt.Fprintf(&b, "%s/%s: %s\n", r.Workspace, r.Buffer, state)
	for _, p := range r.Peers {
		if !p.Attached {
			fmt.Fprintf(&b, "  %-8s %-12s detached\n", p.Name, p.User)
			continue
		}
		fmt.Fprintf(&b, "  %-8s %-12s %-8s sent=%d received=%d dropped=%d\n",
			p.Name, p.User, p.Color, p.Sent, p.Received, p.Dropped)
	}
	b.WriteString("---\n")
	b.WriteString(r.Text)
	if r.Text != "" && !strings.HasSuffix(r.Text, "\n") {
		b.WriteByte('\n')
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
