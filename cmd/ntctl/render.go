package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/nametransfer/internal/sim"
)

type theme struct {
	header  lipgloss.Style
	section lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	dim     lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("24")),
		section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("180")),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")),
		failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
	}
}

func renderResult(res sim.Result) string {
	th := defaultTheme()
	lines := []string{
		th.header.Render("network " + res.Network),
		th.dim.Render(fmt.Sprintf("path %s <-> %s", res.ChannelA, res.ChannelB)),
		"",
		th.section.Render("transfers"),
	}
	for _, tr := range res.Transfers {
		head := fmt.Sprintf("#%d %-8s %s -> %s %s", tr.Index, tr.Kind, tr.From, tr.To, tr.Token)
		switch {
		case tr.Err != "":
			lines = append(lines, head+"  "+th.failed.Render("send failed: "+tr.Err))
		case tr.Report.TimedOut > 0:
			lines = append(lines, head+"  "+th.failed.Render(fmt.Sprintf("timed out seq=%d", tr.Sequence)))
		default:
			lines = append(lines, head+"  "+th.ok.Render(fmt.Sprintf("acknowledged seq=%d", tr.Sequence)))
		}
	}

	lines = append(lines, "", th.section.Render("holdings"))
	if len(res.Holdings) == 0 {
		lines = append(lines, th.dim.Render("(none)"))
	}
	for _, h := range res.Holdings {
		lines = append(lines, fmt.Sprintf("%-10s %s/%s  %s", h.Chain, h.Contract, h.TokenID, h.Owner))
	}

	chains := make([]string, 0, len(res.Events))
	for id := range res.Events {
		chains = append(chains, id)
	}
	sort.Strings(chains)
	lines = append(lines, "", th.section.Render("events"))
	for _, id := range chains {
		for _, ev := range res.Events[id] {
			attrs := make([]string, 0, len(ev.Attributes))
			for _, a := range ev.Attributes {
				attrs = append(attrs, a.Key+"="+a.Value)
			}
			lines = append(lines, fmt.Sprintf("%-10s %s %s", id, ev.Type, th.dim.Render(strings.Join(attrs, " "))))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
