package model

import (
	"github.com/hupe1980/kgassist/internal/util"
)

// DefaultSystemPrompt is rendered with Role and Context.
const DefaultSystemPrompt = `You are the assistant of a kindergarten administration system. Answer in the language of the user, briefly and politely.
{{- if .Role}}
The user is signed in as {{.Role}}.
{{- end}}
{{- if .Context}}

What you know about the user:
{{.Context}}
{{- end}}`

// DefaultClassifyInstruction is appended to the system prompt when classifying.
const DefaultClassifyInstruction = `Decide whether the latest message needs one of the available tools.
If it does, call exactly one tool now.
Otherwise do not call a tool and reply with JSON only: {"classification":"simple_chat","reply":"<your answer>"}.`

// DefaultToolInstruction is appended when proposing further tool calls.
const DefaultToolInstruction = `Use the tool results above. Call more tools only if they are needed to answer; otherwise reply without calling a tool.`

// DefaultFinalInstruction is appended when generating the final answer.
const DefaultFinalInstruction = `Answer the user now using the tool results above. Mention failed tools briefly.
{{- if .ForceFinal}}
No further tools can be used for this message; answer with the information available.
{{- end}}`

func renderSystem(system, instruction string, p Prompt) (string, error) {
	state := map[string]any{
		"Role":       p.Role,
		"Context":    p.Context,
		"ForceFinal": p.ForceFinal,
	}
	head, err := util.RenderTemplate(system, state)
	if err != nil {
		return "", err
	}
	if instruction == "" {
		return head, nil
	}
	tail, err := util.RenderTemplate(instruction, state)
	if err != nil {
		return "", err
	}
	return head + "\n\n" + tail, nil
}
