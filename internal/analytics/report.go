package analytics

import (
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
)

const maxFrictionPoints = 3

// Report summarises how end users move through one circuit.
type Report struct {
	CircuitID                string       `json:"circuitId"`
	Participants             int          `json:"participants"`
	Completed                int          `json:"completed"`
	CompletionRate           float64      `json:"completionRate"`
	AverageCompletionSeconds float64      `json:"averageCompletionSeconds"`
	Funnel                   []FunnelStep `json:"funnel"`
	FrictionPoints           []FunnelStep `json:"frictionPoints"`
}

// FunnelStep is one stage of the funnel. Rates are fractions in [0, 1].
type FunnelStep struct {
	StepID                 string  `json:"stepId"`
	StepNumber             int     `json:"stepNumber"`
	Name                   string  `json:"name"`
	Reached                int     `json:"reached"`
	ReachRate              float64 `json:"reachRate"`
	DropOff                int     `json:"dropOff"`
	DropOffRate            float64 `json:"dropOffRate"`
	AvgSecondsFromPrevious float64 `json:"avgSecondsFromPrevious"`
}

// Compute builds the report from the circuit's progress rows and step completions.
// Completions of steps that no longer exist are ignored.
func Compute(circuit circuits.Circuit, progresses []endusers.CircuitProgress, completions []endusers.StepCompletion) Report {
	report := Report{CircuitID: circuit.ID, Funnel: []FunnelStep{}, FrictionPoints: []FunnelStep{}}

	startedAt := make(map[string]time.Time, len(progresses))
	var completionSeconds float64
	for _, progress := range progresses {
		startedAt[progress.EndUserID] = progress.StartedAt
		if progress.CompletedAt != nil {
			report.Completed++
			completionSeconds += progress.CompletedAt.Sub(progress.StartedAt).Seconds()
		}
	}
	report.Participants = len(progresses)
	report.CompletionRate = ratio(report.Completed, report.Participants)
	if report.Completed > 0 {
		report.AverageCompletionSeconds = completionSeconds / float64(report.Completed)
	}

	reachedAt := make(map[string]map[string]time.Time, len(circuit.Steps))
	for _, completion := range completions {
		if completion.CompletedAt == nil {
			continue
		}
		if _, ok := reachedAt[completion.StepID]; !ok {
			reachedAt[completion.StepID] = map[string]time.Time{}
		}
		reachedAt[completion.StepID][completion.EndUserID] = *completion.CompletedAt
	}

	previous := startedAt
	for _, step := range circuit.Steps {
		current := reachedAt[step.ID]
		funnelStep := FunnelStep{
			StepID:     step.ID,
			StepNumber: step.StepNumber,
			Name:       step.Name,
			Reached:    len(current),
			ReachRate:  ratio(len(current), report.Participants),
		}
		var elapsed float64
		var timed int
		for userID, previousAt := range previous {
			reachedTime, ok := current[userID]
			if !ok {
				funnelStep.DropOff++
				continue
			}
			elapsed += reachedTime.Sub(previousAt).Seconds()
			timed++
		}
		funnelStep.DropOffRate = ratio(funnelStep.DropOff, len(previous))
		if timed > 0 {
			funnelStep.AvgSecondsFromPrevious = elapsed / float64(timed)
		}
		report.Funnel = append(report.Funnel, funnelStep)
		previous = current
	}

	report.FrictionPoints = frictionPoints(report.Funnel)
	return report
}

func frictionPoints(funnel []FunnelStep) []FunnelStep {
	candidates := make([]FunnelStep, 0, len(funnel))
	for _, step := range funnel {
		if step.DropOffRate > 0 {
			candidates = append(candidates, step)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DropOffRate != candidates[j].DropOffRate {
			return candidates[i].DropOffRate > candidates[j].DropOffRate
		}
		return candidates[i].StepNumber < candidates[j].StepNumber
	})
	if len(candidates) > maxFrictionPoints {
		candidates = candidates[:maxFrictionPoints]
	}
	return candidates
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
