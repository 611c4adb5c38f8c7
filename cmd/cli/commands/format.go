package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/core/services"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// parseAssignments parses repeated --member values of the form "memberID" or "memberID:fn1,fn2"
func parseAssignments(values []string) ([]services.MemberAssignment, error) {
	assignments := make([]services.MemberAssignment, 0, len(values))
	for _, v := range values {
		memberID, functions, _ := strings.Cut(v, ":")
		memberID = strings.TrimSpace(memberID)
		if memberID == "" {
			return nil, fmt.Errorf("invalid member assignment %q: missing member id", v)
		}

		a := services.MemberAssignment{MemberID: memberID}
		for _, fid := range strings.Split(functions, ",") {
			if fid = strings.TrimSpace(fid); fid != "" {
				a.FunctionIDs = append(a.FunctionIDs, fid)
			}
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// parseDateArg parses a YYYY-MM-DD command argument
func parseDateArg(name, value string) (time.Time, error) {
	d, err := model.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date in YYYY-MM-DD format, got: %s", name, value)
	}
	return d, nil
}

// statusColor picks the display color for a confirmation status
func statusColor(status model.ConfirmationStatus) string {
	switch status {
	case model.ConfirmationConfirmed:
		return colorGreen
	case model.ConfirmationUnavailable:
		return colorRed
	default:
		return colorYellow
	}
}

func formatCounts(c notify.Counts) string {
	parts := []string{fmt.Sprintf("%d attempted", c.Attempted), fmt.Sprintf("%d sent", c.Sent)}
	if c.Queued > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", c.Queued))
	}
	if c.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", c.Skipped))
	}
	if c.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", c.Failed))
	}
	return strings.Join(parts, ", ")
}

func formatMember(m model.Member) string {
	var extra []string
	if m.Campus != "" {
		extra = append(extra, m.Campus)
	}
	if m.Ministry != "" {
		extra = append(extra, m.Ministry)
	}
	if len(extra) == 0 {
		return fmt.Sprintf("%s (%s)", m.Name, m.ID)
	}
	return fmt.Sprintf("%s (%s) [%s]", m.Name, m.ID, strings.Join(extra, ", "))
}

func formatConflict(err error) string {
	var conflict *model.ConflictError
	if errors.As(err, &conflict) && len(conflict.Names) > 0 {
		return fmt.Sprintf("%s: %s", conflict.Reason, strings.Join(conflict.Names, ", "))
	}
	return err.Error()
}

func printAggregate(agg *model.ScheduleAggregate) {
	s := agg.Schedule
	fmt.Printf("Schedule ID: %s\n", s.ID)
	fmt.Printf("Title:       %s\n", s.Title)
	fmt.Printf("Date:        %s %s\n", s.Date.Format("2006-01-02 (Monday)"), s.Time)
	if s.Location != "" {
		fmt.Printf("Location:    %s\n", s.Location)
	}

	if len(agg.Members) == 0 {
		fmt.Println("Members:     none")
		return
	}

	fmt.Printf("Members:\n")
	for _, sm := range agg.Members {
		functions := ""
		if names := sm.FunctionNames(); len(names) > 0 {
			functions = " - " + strings.Join(names, ", ")
		}
		fmt.Printf("  %s%-12s%s %s%s\n", statusColor(sm.Status), sm.Status, colorReset, formatMember(sm.Member), functions)
	}
}
