package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/session"
	"fleet-fuel-review/internal/windows"
)

const sessionHelp = `Commands:
  list                 show the timeline with band marks
  select <index>       click a sample (two clicks select a range)
  load <review-id>     select the span of an existing review to revise it
  decision <value>     reviewed_ok | reviewed_suspicious | false_positive | need_follow_up
  note <text>          set the note (required for reviewed_suspicious)
  reviewer <name>      set the reviewer
  summary              show the pending review
  save                 persist the pending review
  cancel               clear the selection
  viewport <from> <to> record the chart zoom window
  view                 print the render model as JSON
  quit                 leave the session`

// reviewLookup resolves review ids for the load command
type reviewLookup func(ctx context.Context, id string) (*models.ReviewRecord, error)

// runSession drives a review session from line commands on in
func runSession(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session, lookup reviewLookup) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "Reviewing %d samples. Type 'help' for commands.\n", len(sess.Timeline()))
	printState(out, sess)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch strings.ToLower(verb) {
		case "help", "?":
			fmt.Fprintln(out, sessionHelp)
			continue
		case "quit", "exit", "q":
			return nil
		case "list", "ls":
			printTimeline(out, sess)
			continue
		case "select", "s":
			var i int
			if i, err = strconv.Atoi(rest); err == nil {
				err = sess.Select(i)
			}
		case "load":
			var rec *models.ReviewRecord
			if rec, err = lookup(ctx, rest); err == nil {
				err = sess.Load(*rec)
			}
		case "decision", "d":
			err = sess.SetDecision(models.Decision(rest))
		case "note", "n":
			err = sess.SetNote(rest)
		case "reviewer":
			err = sess.SetReviewer(rest)
		case "summary":
			printSummary(out, sess)
			continue
		case "save":
			var rec *models.ReviewRecord
			if rec, err = sess.Save(ctx); err == nil {
				fmt.Fprintf(out, "✓ Saved review %s (%s, fuel diff %.1f)\n", rec.ID, rec.Decision, rec.FuelDiff)
			}
		case "cancel", "c":
			sess.Cancel()
		case "viewport":
			fields := strings.Fields(rest)
			if len(fields) != 2 {
				err = fmt.Errorf("usage: viewport <from> <to>")
				break
			}
			var from, to float64
			if from, err = strconv.ParseFloat(fields[0], 64); err != nil {
				break
			}
			if to, err = strconv.ParseFloat(fields[1], 64); err != nil {
				break
			}
			sess.SetViewport(session.Viewport{From: from, To: to})
		case "view":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			err = enc.Encode(sess.View())
			if err == nil {
				continue
			}
		default:
			err = fmt.Errorf("unknown command %q", verb)
		}

		if err != nil {
			fmt.Fprintf(out, "  Error: %v\n", err)
		}
		printState(out, sess)
	}
}

func printState(out io.Writer, sess *session.Session) {
	switch st := sess.State().(type) {
	case session.AnchorSet:
		fmt.Fprintf(out, "[anchor %d] select the other end\n", st.Anchor)
	case session.RangeSelected:
		sum, _ := sess.Summary()
		fmt.Fprintf(out, "[range %d-%d] %s %s → %s %s | fuel %.1f → %.1f (diff %.1f) | %d min | %s\n",
			st.From, st.To, sum.StartDate, sum.StartTime, sum.EndDate, sum.EndTime,
			sum.FuelStart, sum.FuelEnd, sum.FuelDiff, sum.DurationMin, sum.Decision)
	default:
		fmt.Fprintln(out, "[idle]")
	}
}

func printSummary(out io.Writer, sess *session.Session) {
	sum, ok := sess.Summary()
	if !ok {
		fmt.Fprintln(out, "  No range selected")
		return
	}
	fmt.Fprintf(out, "  Plate:     %s\n", sum.Plate)
	fmt.Fprintf(out, "  Start:     %s %s\n", sum.StartDate, sum.StartTime)
	fmt.Fprintf(out, "  End:       %s %s\n", sum.EndDate, sum.EndTime)
	fmt.Fprintf(out, "  Fuel:      %.1f → %.1f (diff %.1f)\n", sum.FuelStart, sum.FuelEnd, sum.FuelDiff)
	fmt.Fprintf(out, "  Duration:  %d min\n", sum.DurationMin)
	fmt.Fprintf(out, "  Decision:  %s\n", sum.Decision)
	if sum.Note != "" {
		fmt.Fprintf(out, "  Note:      %s\n", sum.Note)
	}
	if sum.RevisionOf != nil {
		fmt.Fprintf(out, "  Revises:   %s\n", *sum.RevisionOf)
	}
	if err := sess.LastError(); err != nil {
		fmt.Fprintf(out, "  Last save: %v\n", err)
	}
}

// bandMarks returns one mark per timeline index: S suspicious, R reviewed,
// blank unreviewed
func bandMarks(n int, layers []windows.Layer) []string {
	marks := make([]string, n)
	for _, l := range layers {
		var mark string
		switch l.Kind {
		case windows.KindReviewed:
			mark = "R"
		case windows.KindSuspicious:
			mark = "S"
		default:
			continue
		}
		for i, on := range windows.Flags(n, l.Windows) {
			if on {
				marks[i] = mark
			}
		}
	}
	return marks
}

func printTimeline(out io.Writer, sess *session.Session) {
	tl := sess.Timeline()
	view := sess.View()
	marks := bandMarks(len(tl), view.Layers)

	for i, s := range tl {
		cursor := " "
		if view.Anchor != nil && *view.Anchor == i {
			cursor = "*"
		}
		if view.Selection != nil && i >= view.Selection.From && i <= view.Selection.To {
			cursor = ">"
		}
		fmt.Fprintf(out, "%s%4d %-1s %s %s  fuel %6.1f  speed %5.1f  %s\n",
			cursor, i, marks[i], s.Date, s.Time, s.FuelLevel, s.Speed, s.Status)
	}
}
