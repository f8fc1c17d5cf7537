// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside AgentRun.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool declaration (ToolDefinition) and surface tool calls as
//     core.FunctionCallPart content
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agents, compaction) remain decoupled from vendor
// SDKs.
package model
