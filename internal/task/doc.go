// Package task is the queue orchestrator for slide image-prompt generation.
// It claims durable queue entries, drives the generation call through the
// backoff controller, persists results incrementally, and decides each
// task's next state and whether it re-enters the queue.
package task
