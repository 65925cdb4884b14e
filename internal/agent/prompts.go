package agent

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/arjun/sherpa/internal/action"
)

// PromptManager resolves the system prompts for planning, stepping and
// progress evaluation. Files in the prompt directory override the built-in
// defaults; a missing directory or file silently falls back.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

func (pm *PromptManager) load(name, fallback string) string {
	if pm.Directory == "" {
		return fallback
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, name))
	if err != nil {
		return fallback
	}
	return string(data)
}

func (pm *PromptManager) PlannerPrompt() string {
	return pm.load("planner.md", defaultPlannerPrompt)
}

func (pm *PromptManager) StepPrompt() string {
	prompt := pm.load("step.md", defaultStepPrompt)
	return strings.ReplaceAll(prompt, "{{keys}}", strings.Join(action.KeyNames(), ", "))
}

func (pm *PromptManager) ProgressPrompt() string {
	return pm.load("progress.md", defaultProgressPrompt)
}

const defaultPlannerPrompt = `You are the planning layer of a mobile UI automation agent.
Decompose the user's goal into 3-7 atomic subgoals. Each subgoal must be
achievable with at most ~5 UI actions (taps, swipes, text input). Order
matters: subgoals are executed strictly in sequence.

Respond with a single JSON object and nothing else:
{"reasoning": "<why this decomposition>", "subgoals": ["<first>", "<second>", ...]}`

const defaultStepPrompt = `You are the execution layer of a mobile UI automation agent.
You are given one subgoal, the current UI state and the recent action
history. Choose exactly ONE next action.

Actions and their params:
- tap_by_index: {"index": <element index>}
- tap_at_point: {"x": <px>, "y": <px>}
- swipe: {"start_x", "start_y", "end_x", "end_y", "duration_ms"}
- scroll_up / scroll_down: {}
- input_text: {"text": "<text to type>"}
- press_key: {"key": "<one of: {{keys}}>"}
- start_app: {"package": "<app package or url>"}
- wait: {"seconds": <n>}
- back: {}
- complete: {"message": "<what was achieved>"}  -- use when the subgoal is done

Respond with a single JSON object and nothing else:
{"action": "<name>", "params": {...}, "reasoning": "<one sentence>"}`

const defaultProgressPrompt = `You are reviewing the progress of a mobile UI automation run.
Given the plan, the recent action history and the current UI state, judge
how the run should proceed.

Respond with a single JSON object and nothing else:
{"decision": "<continue|advance|retry|replan|complete|fail>", "reasoning": "<one sentence>"}`
