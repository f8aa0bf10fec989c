// Package console implements the operator console from §6: single-letter
// commands read from stdin, dispatched against a Coordinator, and
// rendered as styled tables in the teacher's cmd/ployz/ui idiom
// (lipgloss borders, termenv color-profile detection).
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/Long0307/LoRa-GW-SV/internal/mac/phase"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/registry"
)

var (
	purple = lipgloss.Color("99")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

// Configure sets lipgloss's color profile from the real terminal, or
// forces plain ASCII when output isn't a terminal — the same on/off
// switch the teacher's ConfigureInteraction uses, minus the CI/env-var
// detection this single-operator console doesn't need.
func Configure(isTerminal bool) {
	if isTerminal {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// renderTable renders headers/rows with rounded borders and a bold header
// row, mirroring cmd/ployz/ui.Table.
func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

// Coordinator is the subset of coordinator.Coordinator the console needs,
// kept narrow so this package doesn't import the coordinator package
// directly and create a cycle with anything coordinator later imports
// from console.
type Coordinator interface {
	NodeSnapshot() []registry.Node
	RequestPhaseTransition()
	CurrentPhase() phase.Phase
}

// GatewayLister supplies the "g" command's gateway dump; the gateway
// package's Transport tracks live sockets, which the console has no
// business reaching into directly.
type GatewayLister interface {
	GatewayIDs() []string
}

// Console reads single-letter commands from in and writes rendered
// output to out until "x" is read or ctx is cancelled (§6).
type Console struct {
	Coordinator Coordinator
	Gateways    GatewayLister

	in  io.Reader
	out io.Writer
}

// New constructs a Console reading commands from in and writing to out.
func New(coord Coordinator, gw GatewayLister, in io.Reader, out io.Writer) *Console {
	return &Console{Coordinator: coord, Gateways: gw, in: in, out: out}
}

// Run scans one command per line until ctx is cancelled, EOF, or "x"
// (§5 "Cancellation": the console task exits at its next read).
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.dispatch(strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// dispatch handles one command line; it returns false for "x" (quit).
func (c *Console) dispatch(cmd string) bool {
	switch strings.ToUpper(cmd) {
	case "D":
		c.dumpNodes()
	case "G":
		c.dumpGateways()
	case "PT":
		c.Coordinator.RequestPhaseTransition()
		fmt.Fprintln(c.out, "phase transition requested")
	case "X":
		return false
	case "":
		// blank line, ignore
	default:
		fmt.Fprintf(c.out, "unknown command %q (expected d, g, x, PT)\n", cmd)
	}
	return true
}

func (c *Console) dumpNodes() {
	nodes := c.Coordinator.NodeSnapshot()
	headers := []string{"addr", "class", "type", "parent", "slots", "connected", "sched", "data", "miss"}
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		parent := "-"
		if n.Type == registry.TwoHop {
			parent = fmt.Sprintf("0x%04X", n.ParentAddress)
		}
		rows = append(rows, []string{
			fmt.Sprintf("0x%04X", n.Address),
			fmt.Sprintf("%d", n.Class),
			n.Type.String(),
			parent,
			fmt.Sprintf("%d", n.SlotDemand),
			fmt.Sprintf("%v", n.IsConnected),
			fmt.Sprintf("%v", n.ScheduleFlag),
			fmt.Sprintf("%d", n.DataCount),
			fmt.Sprintf("%d", n.MissCount),
		})
	}
	fmt.Fprintf(c.out, "phase: %s\n", c.Coordinator.CurrentPhase().String())
	fmt.Fprintln(c.out, renderTable(headers, rows))
}

func (c *Console) dumpGateways() {
	headers := []string{"gateway"}
	var rows [][]string
	if c.Gateways != nil {
		for _, id := range c.Gateways.GatewayIDs() {
			rows = append(rows, []string{id})
		}
	}
	fmt.Fprintln(c.out, renderTable(headers, rows))
}
