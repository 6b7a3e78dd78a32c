package learning

import (
	"sort"

	"github.com/quantumflow/assistcore/internal/models"
)

// tracked parameter keys whose values feed frequency suggestions
var trackedParams = []string{
	"template", "type", "language", "scope", "depth",
	"environment", "modificationType", "project", "focus",
}

// updateBehavior folds one interaction into a user's model. Callers hold the engine lock.
func (e *Engine) updateBehavior(bm *models.BehaviorModel, in *Interaction) {
	intentType := in.intentType()

	bm.CommandFrequency[intentType]++

	if in.Result != nil && in.Result.Workflow != nil {
		bm.WorkflowPreference[in.Result.Workflow.Name]++
	}

	bm.TimePatterns = append(bm.TimePatterns, models.TimePattern{
		Hour:   in.At.Hour(),
		Day:    in.At.Weekday(),
		Intent: intentType,
	})
	if over := len(bm.TimePatterns) - e.cfg.TimePatternLimit; over > 0 {
		bm.TimePatterns = append([]models.TimePattern(nil), bm.TimePatterns[over:]...)
	}

	if in.Entities != nil {
		if t := in.Entities.Target; t != nil && t.Type == "file" && t.Name != "" {
			bm.ContextPreference[t.Name]++
		}

		for _, key := range trackedParams {
			v := in.Entities.Param(key)
			if v == "" {
				continue
			}
			byKey := bm.ParameterFrequency[intentType]
			if byKey == nil {
				byKey = make(map[string]map[string]int)
				bm.ParameterFrequency[intentType] = byKey
			}
			if byKey[key] == nil {
				byKey[key] = make(map[string]int)
			}
			byKey[key][v]++
		}
	}

	if fb := in.Feedback; fb != nil {
		bm.FeedbackHistory = append(bm.FeedbackHistory, models.FeedbackRecord{
			Timestamp: in.At,
			Intent:    intentType,
			Positive:  fb.Positive,
			Type:      fb.Type,
		})
		if over := len(bm.FeedbackHistory) - e.cfg.FeedbackLimit; over > 0 {
			bm.FeedbackHistory = append([]models.FeedbackRecord(nil), bm.FeedbackHistory[over:]...)
		}
	}

	bm.UpdatedAt = in.At
}

// mostFrequent returns the highest count entry, ties broken alphabetically
func mostFrequent(counts map[string]int) (string, int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, n := "", 0
	for _, k := range keys {
		if counts[k] > n {
			best, n = k, counts[k]
		}
	}
	return best, n
}

// PeakHour returns the hour at which the user most often issues intent, or -1
func PeakHour(bm *models.BehaviorModel, intent models.IntentType) int {
	if bm == nil {
		return -1
	}
	var hours [24]int
	for _, tp := range bm.TimePatterns {
		if tp.Intent == intent {
			hours[tp.Hour]++
		}
	}
	peak, n := -1, 0
	for h, c := range hours {
		if c > n {
			peak, n = h, c
		}
	}
	return peak
}

func cloneBehavior(bm *models.BehaviorModel) *models.BehaviorModel {
	cp := models.NewBehaviorModel(bm.UserID)
	for k, v := range bm.CommandFrequency {
		cp.CommandFrequency[k] = v
	}
	for k, v := range bm.WorkflowPreference {
		cp.WorkflowPreference[k] = v
	}
	for k, v := range bm.ContextPreference {
		cp.ContextPreference[k] = v
	}
	for in, byKey := range bm.ParameterFrequency {
		cpKey := make(map[string]map[string]int, len(byKey))
		for key, values := range byKey {
			cpVals := make(map[string]int, len(values))
			for v, n := range values {
				cpVals[v] = n
			}
			cpKey[key] = cpVals
		}
		cp.ParameterFrequency[in] = cpKey
	}
	cp.TimePatterns = append([]models.TimePattern(nil), bm.TimePatterns...)
	cp.FeedbackHistory = append([]models.FeedbackRecord(nil), bm.FeedbackHistory...)
	cp.UpdatedAt = bm.UpdatedAt
	return cp
}

