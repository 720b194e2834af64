// Package model defines the provider-agnostic abstractions used to talk to
// AI models.
//
// Two layers exist:
//   - Model is the low-level, vendor-neutral generation interface
//     (streaming or not, with tool calling). Adapters live in model/openai
//     and model/anthropic.
//   - Provider is the capability the orchestrator consumes: Classify,
//     ProposeTools and GenerateAnswer. ChatProvider implements it on top of
//     any Model; MockProvider and ScriptedProvider serve development and
//     tests.
//
// Chain adds fallback across providers and Selector builds providers from
// configuration snapshots by capability.
package model
