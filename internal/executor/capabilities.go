package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aatumaykin/komorebi/internal/agent/sanitizer"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/llm"
)

const (
	artInstruction = `You are a visual artist. Describe the piece you would create as a precise generation prompt:
subject, composition, palette, lighting, style and mood. For video, describe the shots in order.
Answer with the prompt only.`

	codeInstruction = `You are a careful software engineer. Write a small, complete, working program or snippet
for the request. Reply with the code in a single fenced block followed by a short explanation.`

	researchInstruction = `You are a research analyst. Produce a structured report with a summary, key findings,
open questions and sources when known. Keep facts separate from speculation.`

	textInstruction = `You are a thoughtful writer. Write an original, well-structured piece for the request.`

	browserInstruction = `You summarize web pages. Give the page's main points as a short list, then one paragraph
on what is most notable.`
)

// NewCapabilities builds every pipeline on gen. fetcher may be nil, in
// which case browser tasks fail with ErrNoCapability.
func NewCapabilities(gen llm.TextGenerator, fetcher *Fetcher) Capabilities {
	caps := Capabilities{
		Art:      generate(gen, artInstruction, "prompt"),
		Code:     generate(gen, codeInstruction, "source"),
		Research: generate(gen, researchInstruction, "report"),
		Text:     generate(gen, textInstruction, "text"),
		Custom:   generate(gen, textInstruction, "text"),
	}
	if fetcher != nil {
		caps.Browser = browse(gen, fetcher)
	}
	return caps
}

func generate(gen llm.TextGenerator, instruction, kind string) Capability {
	return func(ctx context.Context, req Request) (*Artifact, error) {
		prompt := req.Prompt
		if req.Medium != "" {
			prompt = fmt.Sprintf("Medium: %s\n\n%s", req.Medium, prompt)
		}
		if len(req.Context) > 0 {
			prompt = subagent.BuildTaskPrompt(prompt, req.Context)
		}

		out, err := gen.Generate(ctx, prompt, llm.GenerateOptions{SystemInstruction: instruction})
		if err != nil {
			return nil, err
		}
		return &Artifact{Content: out, Metadata: map[string]any{"kind": kind}}, nil
	}
}

// browse fetches the page named by the task's "url" parameter (or a URL
// given as the prompt) and summarizes it.
func browse(gen llm.TextGenerator, fetcher *Fetcher) Capability {
	return func(ctx context.Context, req Request) (*Artifact, error) {
		target := targetURL(req)
		if target == "" {
			return nil, fmt.Errorf("browser task %q has no url parameter", req.Task.Name)
		}

		page, err := fetcher.Fetch(ctx, target)
		if err != nil {
			return nil, err
		}

		var b strings.Builder
		if req.Task.Prompt != "" && req.Task.Prompt != target {
			b.WriteString(req.Task.Prompt)
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Page: %s\nTitle: %s\n", page.URL, page.Title)
		if page.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", page.Description)
		}
		b.WriteString("\n")
		b.WriteString(sanitizer.WrapExternal(page.Markdown))

		summary, err := gen.Generate(ctx, b.String(), llm.GenerateOptions{
			SystemInstruction: browserInstruction + "\n\n" + sanitizer.UntrustedNotice,
		})
		if err != nil {
			return nil, err
		}

		return &Artifact{
			Content: summary,
			Metadata: map[string]any{
				"kind":        "summary",
				"url":         page.URL,
				"title":       page.Title,
				"status_code": page.StatusCode,
			},
		}, nil
	}
}

func targetURL(req Request) string {
	if v, ok := req.Task.Parameters["url"].(string); ok && v != "" {
		return v
	}
	if u, err := url.Parse(strings.TrimSpace(req.Prompt)); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return u.String()
	}
	return ""
}
