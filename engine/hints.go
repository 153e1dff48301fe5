package engine

import "fmt"

// System hint templates, one per iteration-position case a running task can
// find itself in. Grounded on original_source/core.py's
// get_system_message/msg1-msg4.
const (
	hintSingleIteration = "[SYSTEM] This is a single-iteration task. You may either respond via text to your parent task or perform one or more simultaneous tool uses, but you will not be able to respond or do further work after tool use."
	hintTwoIterationFirst = "[SYSTEM] This is a two-iteration task. You should use this initial iteration to perform your assigned task in one or more simultaneous tool calls, then use your second action to report your results."
	hintPenultimateFmt = "[SYSTEM] Warning: Iteration %d of %d. Finish up your work and perform any final safety and/or hygiene operations and prepare to use your final iteration to report your results if successful, or to thoroughly document failures, any partial successes, and recommended next steps for the parent task."
	hintFinalIteration = "[SYSTEM] Final iteration. Use this final operation to give the parent task your detailed final report rather than using tools."
)

// SystemHint returns the fixed per-iteration hint text for the given
// (iteration, maxIterations) position, and whether one applies at all. The
// Python original always computes this value but then discards it
// (system_message is immediately reset to None in execute_iteration); per
// SPEC_FULL.md's resolution of that open question, this package preserves
// the same default by gating injection on Options.InjectSystemHints.
func SystemHint(iteration, maxIterations int) (string, bool) {
	switch {
	case maxIterations == 1:
		return hintSingleIteration, true
	case maxIterations == 2 && iteration == 0:
		return hintTwoIterationFirst, true
	case maxIterations > 2 && maxIterations-iteration == 2:
		return fmt.Sprintf(hintPenultimateFmt, iteration+1, maxIterations), true
	case iteration == maxIterations-1:
		return hintFinalIteration, true
	default:
		return "", false
	}
}
