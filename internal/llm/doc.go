// Package llm talks to language model providers. It exposes a narrow text
// completion Client with OpenAI, Anthropic, Claude Code and Gemini backends,
// and builds the two collaborators the pipeline needs on top of it: a batch
// category classifier and a statement text parser. Calls are rate limited and
// identical prompts are served from a TTL cache.
package llm
