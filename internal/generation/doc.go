// Package generation defines the interfaces and result types for LLM-backed
// content generation, decoupling the orchestrators from the concrete Gemini
// implementation in platform/gemini.
package generation
