package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/kbukum/conduit/component"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
)

// ComponentInfo is one row of the components table.
type ComponentInfo struct {
	Name    string
	Type    string
	Details string
	Status  component.HealthStatus
	Message string
}

// Summary is the startup report printed once the application is ready.
type Summary struct {
	Name       string
	Version    string
	Startup    time.Duration
	Components []ComponentInfo
	Routes     []component.Route
}

// Collect fills Components and Routes from the registry.
func (s *Summary) Collect(ctx context.Context, reg *component.Registry) {
	for _, c := range reg.All() {
		h := c.Health(ctx)
		info := ComponentInfo{Name: c.Name(), Status: h.Status, Message: h.Message}
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			info.Name, info.Type, info.Details = desc.Name, desc.Type, desc.Details
		}
		s.Components = append(s.Components, info)
	}
	s.Routes = reg.Routes()
}

// Render writes the summary to w.
func (s *Summary) Render(w io.Writer) error {
	_, _ = bold.Fprintf(w, "\n%s %s", s.Name, s.Version)
	_, _ = faint.Fprintf(w, "  started in %s\n\n", s.Startup.Round(time.Millisecond))

	if len(s.Components) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Component", "Type", "Details", "Status")
		for _, c := range s.Components {
			status := statusText(c.Status)
			if c.Message != "" {
				status += " " + c.Message
			}
			if err := table.Append(c.Name, c.Type, c.Details, status); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(s.Routes) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Method", "Path", "Handler")
		for _, r := range s.Routes {
			if err := table.Append(r.Method, r.Path, r.Handler); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func statusText(s component.HealthStatus) string {
	switch s {
	case component.StatusHealthy:
		return green.Sprint("✓ ", s)
	case component.StatusDegraded:
		return yellow.Sprint("! ", s)
	case component.StatusDisabled:
		return faint.Sprint("- ", s)
	default:
		return red.Sprint("✗ ", s)
	}
}
