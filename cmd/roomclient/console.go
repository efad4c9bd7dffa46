package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/feed"
	"github.com/dkeye/classroom/internal/layout"
	"github.com/dkeye/classroom/internal/participants"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// controls are the page buttons.
type controls interface {
	ToggleMic(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	ToggleScreen(ctx context.Context) error
	ToggleFocus(tile domain.TileID) error
	Leave(ctx context.Context) error
}

type console struct {
	ctl          controls
	local        domain.TileID
	layout       func() layout.Snapshot
	participants func() []participants.Participant
	out          io.Writer
}

const help = `commands:
  mic            mute or unmute the microphone
  cam            turn the camera on or off
  screen         start or stop sharing the screen
  focus [uid]    focus a participant's tile, yours without uid
  unfocus        return the focused tile to the pool
  layout         show the tiles
  who            show remote participants
  leave          leave the room`

// run reads commands until leave, EOF or ctx ends. It reports whether
// the room was left cleanly.
func (c *console) run(ctx context.Context, in io.Reader) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, color.Cyan.Render("type help for commands"))
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return false, io.EOF
			}
			done, err := c.exec(ctx, line)
			if done {
				return err == nil, err
			}
		}
	}
}

// exec runs one command; done is set once leave was attempted.
func (c *console) exec(ctx context.Context, line string) (done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "help", "?":
		fmt.Fprintln(c.out, help)
	case "mic":
		if muted, err := c.ctl.ToggleMic(ctx); err == nil {
			fmt.Fprintln(c.out, onOff("microphone", !muted))
		}
	case "cam":
		if muted, err := c.ctl.ToggleCamera(ctx); err == nil {
			fmt.Fprintln(c.out, onOff("camera", !muted))
		}
	case "screen":
		_ = c.ctl.ToggleScreen(ctx)
	case "focus":
		tile := c.local
		if len(fields) > 1 && fields[1] != "me" {
			tile = domain.TileFor(domain.ParticipantID(fields[1]))
		}
		if err := c.ctl.ToggleFocus(tile); err != nil {
			fmt.Fprintln(c.out, color.Red.Sprintf("cannot focus %s: %v", tile, err))
		}
	case "unfocus":
		if tile := c.layout().Focused; tile != "" {
			_ = c.ctl.ToggleFocus(tile)
		}
	case "layout":
		c.printLayout()
	case "who":
		c.printParticipants()
	case "leave", "quit":
		return true, c.ctl.Leave(ctx)
	default:
		fmt.Fprintln(c.out, color.Red.Sprintf("unknown command %q, type help", fields[0]))
	}
	return false, nil
}

func onOff(what string, on bool) string {
	if on {
		return color.Green.Sprintf("%s on", what)
	}
	return color.Gray.Sprintf("%s off", what)
}

func (c *console) printLayout() {
	snap := c.layout()
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Tile", "Size"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	if snap.Focused != "" {
		table.Append([]string{string(snap.Focused), layout.SizeFocused.String()})
	}
	for _, t := range snap.Pool {
		table.Append([]string{string(t.ID), t.Size.String()})
	}
	table.Render()
}

func (c *console) printParticipants() {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Participant", "Tile", "Media"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, p := range c.participants() {
		kinds := make([]string, 0, len(p.Tracks))
		for _, k := range p.Kinds() {
			kinds = append(kinds, string(k))
		}
		table.Append([]string{string(p.ID), string(p.Tile), strings.Join(kinds, ",")})
	}
	table.Render()
}

// printMessage renders one feed entry.
func printMessage(out io.Writer, m feed.Message) {
	stamp := color.Gray.Sprint(m.At.Format("15:04:05"))
	author := color.New(color.FgCyan, color.OpBold).Render(m.Author)
	text := m.Text
	switch {
	case m.System && strings.HasPrefix(text, "Error:"):
		text = color.Red.Sprint(text)
	case m.System:
		text = color.Yellow.Sprint(text)
	}
	fmt.Fprintf(out, "%s %s: %s\n", stamp, author, text)
}
